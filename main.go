package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"cmux-remote/app"
	"cmux-remote/log"
	"cmux-remote/tmux"

	"github.com/spf13/cobra"
)

var (
	portFlag   int
	enableFlag bool
	tmuxFlag   bool
	killAll    bool
)

var rootCmd = &cobra.Command{
	Use:   "cmux-remote",
	Short: "Remote terminal access server for cmux workspaces",
	Long: `cmux-remote exposes interactive terminal sessions and a workspace
overview to browsers on the local network. Run it standalone, or embed the
packages in a host application.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize()
		defer log.Close()
		return app.Run(app.Options{Port: portFlag, Enable: enableFlag, TmuxMode: tmuxFlag})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <session>",
	Short: "Attach this terminal to a managed tmux session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Stdout is the tmux screen while attached; keep logs file-only.
		log.InitializeQuiet()
		defer log.Close()
		return tmux.NewCoordinator().AttachInteractive(args[0])
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the tmux sessions this application owns",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.InitializeQuiet()
		defer log.Close()

		sessions := tmux.NewCoordinator().ListActiveSessions()
		if len(sessions) == 0 {
			fmt.Println("no active sessions")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCREATED\tWINDOWS\tATTACHED\tPATH")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				s.Name, s.Created.Format(time.DateTime), s.WindowCount, s.Attached, s.CurrentPath)
		}
		return w.Flush()
	},
}

var killCmd = &cobra.Command{
	Use:   "kill [session]",
	Short: "Kill one managed tmux session, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log.InitializeQuiet()
		defer log.Close()

		coordinator := tmux.NewCoordinator()
		if killAll {
			fmt.Printf("killed %d sessions\n", coordinator.KillAllSessions())
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("a session name or --all is required")
		}
		if err := coordinator.KillSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("killed %s\n", args[0])
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cmux-remote %s\n", app.Version)
	},
}

func init() {
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "override the configured listen port")
	rootCmd.Flags().BoolVar(&enableFlag, "enable", false, "enable the server and persist the flag")
	rootCmd.Flags().BoolVar(&tmuxFlag, "tmux", false, "run new workspace panels under tmux")
	killCmd.Flags().BoolVar(&killAll, "all", false, "kill every managed session")

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

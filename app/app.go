// Package app wires the standalone server: config, single-instance lock,
// executor, host, PTY manager, tmux coordinator and the web server, plus
// signal-driven shutdown.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cmux-remote/agents"
	"cmux-remote/bridge"
	"cmux-remote/config"
	"cmux-remote/host"
	"cmux-remote/log"
	"cmux-remote/session"
	"cmux-remote/tmux"
	"cmux-remote/web"

	"github.com/gofrs/flock"
)

// Version is stamped into /api/status.
const Version = "1.0.0"

// Options are CLI overrides on top of the persisted config.
type Options struct {
	// Port overrides the configured port when non-zero.
	Port int
	// Enable turns the server on and persists the flag.
	Enable bool
	// TmuxMode makes new workspaces run their panels under tmux.
	TmuxMode bool
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func Run(opts Options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WarningLog.Printf("using default config: %v", err)
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if opts.TmuxMode {
		cfg.TmuxMode = true
	}
	if opts.Enable && !cfg.Enabled {
		cfg.Enabled = true
		if err := config.SaveConfig(cfg); err != nil {
			log.WarningLog.Printf("could not persist enabled flag: %v", err)
		}
	}
	if !cfg.Enabled {
		fmt.Println("remote server is disabled; run with --enable or set enabled in the config")
		return nil
	}

	// One standalone instance per machine; two would fight over the port and
	// the persisted workspace state.
	configDir, err := config.GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	lock := flock.New(filepath.Join(configDir, "server.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("could not take server lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running (lock %s held)", lock.Path())
	}
	defer lock.Unlock()

	coordinator := tmux.NewCoordinator()
	if err := coordinator.CheckVersion(); err != nil {
		// Plain shells still work without tmux; mirroring just degrades.
		log.WarningLog.Printf("tmux unavailable: %v", err)
		if cfg.TmuxMode {
			log.WarningLog.Printf("disabling tmux mode: create-or-attach needs a newer tmux")
			cfg.TmuxMode = false
		}
	}

	executor := bridge.NewExecutor()
	state := config.LoadState()

	var h *host.LocalHost
	executor.Sync(func() { h = host.NewLocalHost(coordinator, state, cfg.TmuxMode) })

	manager := session.NewManager()
	b := bridge.New(executor, h)

	index := agents.NewIndex(cfg.AgentStateDir)
	if err := index.Start(); err != nil {
		log.WarningLog.Printf("agent transcript watcher disabled: %v", err)
	}

	server := web.NewServer(web.Deps{
		Config:      cfg,
		Executor:    executor,
		Bridge:      b,
		Host:        h,
		Manager:     manager,
		Coordinator: coordinator,
		Agents:      index,
		Version:     Version,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}
	fmt.Printf("cmux-remote serving on http://0.0.0.0:%d\n", cfg.Port)
	log.InfoLog.Printf("serving on port %d (tmux mode: %v)", cfg.Port, cfg.TmuxMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.InfoLog.Printf("received %s, shutting down", sig)

	if err := server.Stop(); err != nil {
		log.WarningLog.Printf("server shutdown: %v", err)
	}
	manager.RemoveAll()
	index.Stop()
	executor.Stop()
	return nil
}

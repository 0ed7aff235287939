//go:build !windows

package tmux

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cmux-remote/log"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// AttachInteractive attaches the invoking terminal to a session and blocks
// until tmux exits, either because the user detached or the session ended.
// The terminal is in raw mode for the duration. Log output must go to the
// file-only loggers while attached since stdout is the tmux screen.
func (c *Coordinator) AttachInteractive(name string) error {
	if !c.SessionExists(name) {
		return fmt.Errorf("tmux session %s does not exist", name)
	}

	cmd := exec.Command(c.binaryPath, "-u", "attach-session", fmt.Sprintf("-t=%s", name))
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("error attaching to tmux session: %w", err)
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		ptmx.Close()
		return fmt.Errorf("error making terminal raw: %w", err)
	}
	defer func() {
		if err := term.Restore(int(os.Stdin.Fd()), oldState); err != nil {
			log.FileOnlyWarningLog.Printf("error restoring terminal state: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	monitorWindowSize(ctx, &wg, ptmx)

	// The stdin pump has no clean way to unblock, so it is not in the wait
	// group. The process exits right after this function returns.
	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()

	// Pump tmux output to the local stdout until tmux exits and the pty
	// returns EOF.
	_, _ = io.Copy(os.Stdout, ptmx)

	waitErr := cmd.Wait()
	cancel()
	wg.Wait()
	if err := ptmx.Close(); err != nil {
		log.FileOnlyWarningLog.Printf("error closing attach pty: %v", err)
	}
	if waitErr != nil {
		return fmt.Errorf("tmux attach exited: %w", waitErr)
	}
	return nil
}

// monitorWindowSize propagates terminal resizes to the attach pty while
// attached.
func monitorWindowSize(ctx context.Context, wg *sync.WaitGroup, ptmx *os.File) {
	winchChan := make(chan os.Signal, 1)
	signal.Notify(winchChan, syscall.SIGWINCH)
	// Send initial SIGWINCH to trigger the first resize
	_ = syscall.Kill(syscall.Getpid(), syscall.SIGWINCH)

	everyN := log.NewEvery(60 * time.Second)

	doUpdate := func() {
		cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
		if err != nil {
			if everyN.ShouldLog() {
				log.FileOnlyErrorLog.Printf("failed to read terminal size: %v", err)
			}
			return
		}
		if err := pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
			if everyN.ShouldLog() {
				log.FileOnlyErrorLog.Printf("failed to update window size: %v", err)
			}
		}
	}

	// Debounce resize events
	wg.Add(2)
	debouncedWinch := make(chan os.Signal, 1)
	go func() {
		defer wg.Done()
		var resizeTimer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case <-winchChan:
				if resizeTimer != nil {
					resizeTimer.Stop()
				}
				resizeTimer = time.AfterFunc(50*time.Millisecond, func() {
					select {
					case debouncedWinch <- syscall.SIGWINCH:
					case <-ctx.Done():
					}
				})
			}
		}
	}()
	go func() {
		defer wg.Done()
		defer signal.Stop(winchChan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-debouncedWinch:
				doUpdate()
			}
		}
	}()
}

// Package session owns the PTY lifecycle behind each terminal WebSocket: spawn,
// output pump, resize, detach/reattach across client drops, and termination.
package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"cmux-remote/log"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// readBufferSize is the largest chunk forwarded per read.
const readBufferSize = 16 * 1024

// processExitedMessage is emitted to the client when the child exits.
const processExitedMessage = "\r\n[Process exited]\r\n"

// Client is the attached consumer of a session's output. The read pump calls
// Send from its own goroutine, so implementations must serialize writes.
// Clients are compared by identity in the manager's maps.
type Client interface {
	Send(text string) error
}

// SpawnError reports a failed fork/exec when creating a session.
type SpawnError struct {
	Dir string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn pty in %s: %v", e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Options configures a spawn.
type Options struct {
	// WorkingDir is the child's working directory. Callers validate it first.
	WorkingDir string
	Cols       int
	Rows       int
	// TmuxName, when set, makes the child attach to that tmux session instead
	// of running a login shell.
	TmuxName string
	// TmuxBinary is the resolved tmux path. Only used when TmuxName is set.
	TmuxBinary string
}

// Session is one PTY with an optional attached client. The fd outlives client
// connections: a detach keeps the child running and a later reattach resumes
// output on the same fd.
type Session struct {
	ID         string
	WorkingDir string
	TmuxName   string

	ptmx *os.File
	cmd  *exec.Cmd

	mu                 sync.Mutex
	client             Client
	lastDisconnectedAt time.Time
	terminated         bool
	pumpStop           chan struct{}
	pumpDone           chan struct{}

	terminateOnce sync.Once
	now           func() time.Time
}

// Spawn forks a PTY running either a tmux attach or the user's login shell.
func Spawn(opts Options) (*Session, error) {
	var cmd *exec.Cmd
	if opts.TmuxName != "" {
		tmuxBin := opts.TmuxBinary
		if tmuxBin == "" {
			tmuxBin = "tmux"
		}
		cmd = exec.Command(tmuxBin, "-u", "attach-session", fmt.Sprintf("-t=%s", opts.TmuxName))
	} else {
		shell := loginShell()
		cmd = exec.Command(shell)
		// Login shell convention: argv[0] starts with a dash.
		cmd.Args = []string{"-" + filepath.Base(shell)}
	}
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	)

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, &SpawnError{Dir: opts.WorkingDir, Err: err}
	}

	return &Session{
		ID:         uuid.NewString(),
		WorkingDir: opts.WorkingDir,
		TmuxName:   opts.TmuxName,
		ptmx:       ptmx,
		cmd:        cmd,
		now:        time.Now,
	}, nil
}

// Attach binds a client and starts the read pump.
func (s *Session) Attach(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.stopPumpLocked()
	s.client = c
	s.lastDisconnectedAt = time.Time{}
	s.startPumpLocked(c)
}

// Detach stops the pump and stamps the disconnect time. The fd stays open so
// the session can be reattached within the grace period.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.stopPumpLocked()
	s.client = nil
	s.lastDisconnectedAt = s.now()
}

// Reattach swaps in a new client. Output produced while orphaned is gone; a
// tmux-backed session redraws on attach, a plain shell simply continues.
func (s *Session) Reattach(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.stopPumpLocked()
	s.client = c
	s.lastDisconnectedAt = time.Time{}
	s.startPumpLocked(c)
}

// Write sends input bytes to the child. Short writes are not retried, shell
// input is small enough that best effort is accepted.
func (s *Session) Write(text string) error {
	_, err := s.ptmx.Write([]byte(text))
	return err
}

// Resize updates the PTY window size.
func (s *Session) Resize(cols, rows int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Terminate is idempotent: stop the pump, hang up the child, reap it off the
// hot path, and close the fd exactly once.
func (s *Session) Terminate() {
	s.terminateOnce.Do(func() {
		s.mu.Lock()
		s.terminated = true
		s.stopPumpLocked()
		s.client = nil
		s.mu.Unlock()

		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Signal(syscall.SIGHUP); err != nil {
				log.FileOnlyWarningLog.Printf("session %s: SIGHUP failed: %v", s.ID, err)
			}
			cmd := s.cmd
			go func() {
				_ = cmd.Wait()
			}()
		}
		if err := s.ptmx.Close(); err != nil {
			log.FileOnlyWarningLog.Printf("session %s: closing pty: %v", s.ID, err)
		}
	})
}

// IsOrphaned reports whether the session is alive but has no client.
func (s *Session) IsOrphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client == nil && !s.terminated
}

// LastDisconnectedAt returns when the last client detached, zero while
// attached.
func (s *Session) LastDisconnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDisconnectedAt
}

// startPumpLocked launches the read pump for c. Callers hold s.mu.
func (s *Session) startPumpLocked(c Client) {
	s.pumpStop = make(chan struct{})
	s.pumpDone = make(chan struct{})
	go s.readPump(c, s.pumpStop, s.pumpDone)
}

// stopPumpLocked stops a running pump and waits for it to exit. The in-flight
// blocking read is unblocked with a read deadline, which is cleared again once
// the pump is down so the next pump starts fresh. Callers hold s.mu.
func (s *Session) stopPumpLocked() {
	if s.pumpDone == nil {
		return
	}
	close(s.pumpStop)
	_ = s.ptmx.SetReadDeadline(time.Now())
	<-s.pumpDone
	_ = s.ptmx.SetReadDeadline(time.Time{})
	s.pumpStop = nil
	s.pumpDone = nil
}

// readPump forwards PTY output to the client until the child exits or the
// pump is stopped. It never closes the fd; Terminate owns that.
func (s *Session) readPump(c Client, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			if sendErr := c.Send(decodeTerminalOutput(buf[:n])); sendErr != nil {
				// Client is gone. The handler's read loop notices the same
				// thing and detaches; just stop forwarding.
				log.FileOnlyInfoLog.Printf("session %s: client send failed: %v", s.ID, sendErr)
				return
			}
		}
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			// EOF on macOS, EIO on Linux once the child side is gone.
			if sendErr := c.Send(processExitedMessage); sendErr != nil {
				log.FileOnlyInfoLog.Printf("session %s: exit notice send failed: %v", s.ID, sendErr)
			}
			return
		}
	}
}

// decodeTerminalOutput converts a chunk to a string. Invalid UTF-8 falls back
// to mapping each byte to its Latin-1 code point so no bytes are lost.
func decodeTerminalOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

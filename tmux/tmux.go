// Package tmux names, creates, enumerates and kills the tmux sessions that
// let a native panel and a remote browser mirror the same terminal.
package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"cmux-remote/log"

	"github.com/Masterminds/semver/v3"
)

// SessionPrefix marks sessions owned by this application. Sessions without it
// are never listed or killed.
const SessionPrefix = "at-"

// listFormat is passed to list-sessions -F. Fields are tab-separated so paths
// containing spaces survive parsing.
const listFormat = "#{session_name}\t#{session_created}\t#{session_windows}\t#{session_attached}\t#{pane_current_path}"

// probePaths is checked in order at startup. Homebrew installs first, then the
// system path. If none is executable we fall back to a PATH search at exec
// time.
var probePaths = []string{
	"/opt/homebrew/bin/tmux",
	"/usr/local/bin/tmux",
	"/usr/bin/tmux",
}

// new-session -A (attach if the session exists) appeared in tmux 1.8.
var minVersion = semver.MustParse("1.8")

var versionRegex = regexp.MustCompile(`\d+\.\d+`)

// Session describes one tmux session from an enumeration.
type Session struct {
	Name        string
	Created     time.Time
	WindowCount int
	Attached    int
	CurrentPath string
}

// Coordinator resolves the tmux binary once and runs all tmux subprocesses
// with the resolved path. It also keeps the panel to session name registry so
// a panel reuses its session name across reconnects.
type Coordinator struct {
	binaryPath string

	mu       sync.Mutex
	sessions map[string]string // panel id -> tmux session name
}

// NewCoordinator probes for the tmux binary and returns a ready coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		binaryPath: resolveBinary(),
		sessions:   make(map[string]string),
	}
}

func resolveBinary() string {
	for _, p := range probePaths {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return p
		}
	}
	return "tmux"
}

// BinaryPath returns the resolved tmux binary path.
func (c *Coordinator) BinaryPath() string {
	return c.binaryPath
}

// Available reports whether the resolved binary can actually be executed.
func (c *Coordinator) Available() bool {
	_, err := exec.LookPath(c.binaryPath)
	return err == nil
}

// Version runs tmux -V and parses the reported version.
func (c *Coordinator) Version() (*semver.Version, error) {
	out, err := exec.Command(c.binaryPath, "-V").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s -V: %w", c.binaryPath, err)
	}
	return parseVersion(string(out))
}

// parseVersion extracts a version from tmux -V output such as "tmux 3.4",
// "tmux 3.3a" or "tmux next-3.6".
func parseVersion(out string) (*semver.Version, error) {
	m := versionRegex.FindString(out)
	if m == "" {
		return nil, fmt.Errorf("unrecognized tmux version output: %q", strings.TrimSpace(out))
	}
	return semver.NewVersion(m)
}

// CheckVersion returns an error when the installed tmux predates new-session -A.
func (c *Coordinator) CheckVersion() error {
	v, err := c.Version()
	if err != nil {
		return err
	}
	if v.LessThan(minVersion) {
		return fmt.Errorf("tmux %s is too old, need %s or newer", v, minVersion)
	}
	return nil
}

// ListActiveSessions enumerates the sessions this application owns. A
// non-zero exit (usually no tmux server running) yields an empty list.
func (c *Coordinator) ListActiveSessions() []Session {
	out, err := exec.Command(c.binaryPath, "list-sessions", "-F", listFormat).Output()
	if err != nil {
		return nil
	}
	return parseSessions(out)
}

func parseSessions(out []byte) []Session {
	var sessions []Session
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			log.FileOnlyWarningLog.Printf("skipping malformed tmux list-sessions line: %q", line)
			continue
		}
		if !strings.HasPrefix(fields[0], SessionPrefix) {
			continue
		}
		created, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			created = 0
		}
		windows, _ := strconv.Atoi(fields[2])
		attached, _ := strconv.Atoi(fields[3])
		sessions = append(sessions, Session{
			Name:        fields[0],
			Created:     time.Unix(created, 0),
			WindowCount: windows,
			Attached:    attached,
			CurrentPath: fields[4],
		})
	}
	return sessions
}

// SessionExists checks if a tmux session exists
func (c *Coordinator) SessionExists(name string) bool {
	// Using "-t name" does a prefix match, which is wrong. `-t=` does an exact match.
	existsCmd := exec.Command(c.binaryPath, "has-session", fmt.Sprintf("-t=%s", name))
	return existsCmd.Run() == nil
}

// KillSession kills one session. Sessions outside our prefix are refused.
func (c *Coordinator) KillSession(name string) error {
	if !strings.HasPrefix(name, SessionPrefix) {
		return fmt.Errorf("refusing to kill tmux session %q: missing %q prefix", name, SessionPrefix)
	}
	killCmd := exec.Command(c.binaryPath, "kill-session", fmt.Sprintf("-t=%s", name))
	if err := killCmd.Run(); err != nil {
		return fmt.Errorf("failed to kill tmux session %s: %w", name, err)
	}
	return nil
}

// KillAllSessions kills every session this application owns and returns how
// many were killed.
func (c *Coordinator) KillAllSessions() int {
	killed := 0
	for _, s := range c.ListActiveSessions() {
		if err := c.KillSession(s.Name); err != nil {
			log.WarningLog.Printf("could not kill tmux session %s: %v", s.Name, err)
			continue
		}
		killed++
	}
	return killed
}

package tmux

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const maxSlugLen = 30

// SessionName derives a deterministic session name from a panel id. A panel
// with a title gets a readable slug plus a short id suffix; an untitled panel
// gets the id alone. Both forms carry the ownership prefix.
func SessionName(panelID, title string) string {
	slug := slugify(title)
	if slug == "" {
		return SessionPrefix + hexPrefix(panelID, 8)
	}
	return SessionPrefix + slug + "-" + hexPrefix(panelID, 4)
}

// slugify lowercases a title and maps the characters tmux session names cannot
// carry: spaces become dashes, dots and colons become underscores.
func slugify(title string) string {
	s := strings.ToLower(title)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, ":", "_")
	r := []rune(s)
	if len(r) > maxSlugLen {
		r = r[:maxSlugLen]
	}
	return string(r)
}

// hexPrefix collects the first n hex digits of an id, lowercased. Ids without
// any hex digits fall back to a hash so the name stays deterministic.
func hexPrefix(id string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
			if b.Len() == n {
				return b.String()
			}
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:n]
}

// shellQuote single-quotes s for a POSIX shell. Embedded single quotes close
// the quote, escape one, and reopen.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SessionNameFor returns the registered session name for a panel, generating
// and registering one on first use. Reusing the registered name keeps a panel
// mirrored to the same session after the remote side reconnects.
func (c *Coordinator) SessionNameFor(panelID, title string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.sessions[panelID]; ok {
		return name
	}
	name := SessionName(panelID, title)
	c.sessions[panelID] = name
	return name
}

// RegisterSession records a panel to session mapping, e.g. when restoring
// workspaces that were already running under tmux.
func (c *Coordinator) RegisterSession(panelID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[panelID] = name
}

// RegisteredName looks up the session name for a panel without generating one.
func (c *Coordinator) RegisteredName(panelID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.sessions[panelID]
	return name, ok
}

// ForgetSession drops a panel's registry entry, e.g. after its session is
// killed.
func (c *Coordinator) ForgetSession(panelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, panelID)
}

// CreateOrAttachCommand builds the shell command a panel's PTY runs to join
// its tmux session, creating it if needed. The command hides the status bar
// (the surrounding app draws its own chrome), exposes the panel id to
// programs inside the session, and clears so none of the setup is visible.
// The exported assignment starts with a space to keep it out of shell history.
func (c *Coordinator) CreateOrAttachCommand(panelID, dir, title string) string {
	name := c.SessionNameFor(panelID, title)
	quotedPanel := shellQuote(panelID)

	var b strings.Builder
	b.WriteString(c.binaryPath)
	b.WriteString(" -u new-session -A -s ")
	b.WriteString(shellQuote(name))
	if dir != "" {
		b.WriteString(" -c ")
		b.WriteString(shellQuote(dir))
	}
	fmt.Fprintf(&b, ` \; set-option status off`)
	fmt.Fprintf(&b, ` \; set-environment CMUX_SURFACE_ID %s`, quotedPanel)
	fmt.Fprintf(&b, ` \; set-environment CMUX_PANEL_ID %s`, quotedPanel)
	setup := fmt.Sprintf(" export CMUX_SURFACE_ID=%s CMUX_PANEL_ID=%s; clear", panelID, panelID)
	fmt.Fprintf(&b, ` \; send-keys %s Enter`, shellQuote(setup))
	return b.String()
}

// AttachCommand builds the shell command for a plain attach to an existing
// session.
func (c *Coordinator) AttachCommand(name string) string {
	return fmt.Sprintf("TERM=xterm-256color %s -u attach-session -t %s", c.binaryPath, shellQuote(name))
}

package session

import "os"

// loginShell resolves the user's shell from the environment, falling back to
// the macOS default.
func loginShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/zsh"
}

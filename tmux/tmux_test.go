package tmux

import (
	"os"
	"strings"
	"testing"
	"time"

	"cmux-remote/log"
)

func TestMain(m *testing.M) {
	log.Initialize()
	code := m.Run()
	log.Close()
	os.Exit(code)
}

func TestSessionName(t *testing.T) {
	tests := []struct {
		name     string
		panelID  string
		title    string
		expected string
	}{
		{
			name:     "untitled panel uses id only",
			panelID:  "6f9619ff-8b86-d011-b42d-00cf4fc964ff",
			title:    "",
			expected: "at-6f9619ff",
		},
		{
			name:     "titled panel gets slug plus id suffix",
			panelID:  "6f9619ff-8b86-d011-b42d-00cf4fc964ff",
			title:    "build",
			expected: "at-build-6f96",
		},
		{
			name:     "spaces become dashes",
			panelID:  "abcd1234",
			title:    "my project",
			expected: "at-my-project-abcd",
		},
		{
			name:     "dots and colons become underscores",
			panelID:  "abcd1234",
			title:    "api.v2:test",
			expected: "at-api_v2_test-abcd",
		},
		{
			name:     "titles are lowercased",
			panelID:  "abcd1234",
			title:    "Deploy Prod",
			expected: "at-deploy-prod-abcd",
		},
		{
			name:     "long titles are truncated to thirty characters",
			panelID:  "abcd1234",
			title:    strings.Repeat("x", 40),
			expected: "at-" + strings.Repeat("x", 30) + "-abcd",
		},
		{
			name:     "uppercase hex in the id is lowercased",
			panelID:  "ABCD1234-EF00",
			title:    "",
			expected: "at-abcd1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionName(tt.panelID, tt.title)
			if got != tt.expected {
				t.Errorf("SessionName(%q, %q) = %q, want %q", tt.panelID, tt.title, got, tt.expected)
			}
		})
	}
}

func TestSessionNameDeterministic(t *testing.T) {
	a := SessionName("6f9619ff-8b86", "build")
	b := SessionName("6f9619ff-8b86", "build")
	if a != b {
		t.Errorf("SessionName not deterministic: %q vs %q", a, b)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain path",
			input:    "/tmp/work",
			expected: "'/tmp/work'",
		},
		{
			name:     "path with spaces",
			input:    "/Users/me/My Projects",
			expected: "'/Users/me/My Projects'",
		},
		{
			name:     "embedded single quote",
			input:    "/Users/me/it's here",
			expected: `'/Users/me/it'\''s here'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shellQuote(tt.input)
			if got != tt.expected {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseSessions(t *testing.T) {
	out := []byte("at-build-6f96\t1718000000\t2\t1\t/tmp/work\n" +
		"other-session\t1718000100\t1\t0\t/home\n" +
		"at-deploy\t1718000200\t3\t0\t/srv/deploy\n")

	sessions := parseSessions(out)
	if len(sessions) != 2 {
		t.Fatalf("parseSessions returned %d sessions, want 2", len(sessions))
	}

	first := sessions[0]
	if first.Name != "at-build-6f96" {
		t.Errorf("first session name = %q, want %q", first.Name, "at-build-6f96")
	}
	if !first.Created.Equal(time.Unix(1718000000, 0)) {
		t.Errorf("first session created = %v, want %v", first.Created, time.Unix(1718000000, 0))
	}
	if first.WindowCount != 2 || first.Attached != 1 {
		t.Errorf("first session windows/attached = %d/%d, want 2/1", first.WindowCount, first.Attached)
	}
	if first.CurrentPath != "/tmp/work" {
		t.Errorf("first session path = %q, want %q", first.CurrentPath, "/tmp/work")
	}
	if sessions[1].Name != "at-deploy" {
		t.Errorf("second session name = %q, want %q", sessions[1].Name, "at-deploy")
	}
}

func TestParseSessionsSkipsMalformedLines(t *testing.T) {
	out := []byte("at-ok\t1718000000\t1\t0\t/tmp\ngarbage line without tabs\n\n")
	sessions := parseSessions(out)
	if len(sessions) != 1 {
		t.Fatalf("parseSessions returned %d sessions, want 1", len(sessions))
	}
	if sessions[0].Name != "at-ok" {
		t.Errorf("session name = %q, want %q", sessions[0].Name, "at-ok")
	}
}

func TestParseSessionsPathWithSpaces(t *testing.T) {
	out := []byte("at-docs\t1718000000\t1\t0\t/Users/me/My Documents\n")
	sessions := parseSessions(out)
	if len(sessions) != 1 {
		t.Fatalf("parseSessions returned %d sessions, want 1", len(sessions))
	}
	if sessions[0].CurrentPath != "/Users/me/My Documents" {
		t.Errorf("session path = %q, want %q", sessions[0].CurrentPath, "/Users/me/My Documents")
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "release",
			input:    "tmux 3.4\n",
			expected: "3.4.0",
		},
		{
			name:     "patch letter release",
			input:    "tmux 3.3a\n",
			expected: "3.3.0",
		},
		{
			name:     "next snapshot",
			input:    "tmux next-3.6\n",
			expected: "3.6.0",
		},
		{
			name:    "garbage",
			input:   "not a version",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVersion(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseVersion(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVersion(%q) failed: %v", tt.input, err)
			}
			if v.String() != tt.expected {
				t.Errorf("parseVersion(%q) = %s, want %s", tt.input, v, tt.expected)
			}
		})
	}
}

func TestCreateOrAttachCommand(t *testing.T) {
	c := &Coordinator{binaryPath: "/usr/bin/tmux", sessions: make(map[string]string)}
	cmd := c.CreateOrAttachCommand("6f9619ff-8b86", "/tmp/it's here", "build")

	for _, want := range []string{
		"/usr/bin/tmux -u new-session -A -s 'at-build-6f96'",
		`-c '/tmp/it'\''s here'`,
		"set-option status off",
		"set-environment CMUX_SURFACE_ID '6f9619ff-8b86'",
		"set-environment CMUX_PANEL_ID '6f9619ff-8b86'",
		"clear",
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("CreateOrAttachCommand missing %q in %q", want, cmd)
		}
	}
}

func TestCreateOrAttachCommandWithoutDir(t *testing.T) {
	c := &Coordinator{binaryPath: "tmux", sessions: make(map[string]string)}
	cmd := c.CreateOrAttachCommand("abcd1234", "", "")
	if strings.Contains(cmd, " -c ") {
		t.Errorf("CreateOrAttachCommand with empty dir should not pass -c: %q", cmd)
	}
	if !strings.Contains(cmd, "new-session -A -s 'at-abcd1234'") {
		t.Errorf("CreateOrAttachCommand missing session name: %q", cmd)
	}
}

func TestCreateOrAttachCommandReusesRegisteredName(t *testing.T) {
	c := &Coordinator{binaryPath: "tmux", sessions: make(map[string]string)}
	c.RegisterSession("abcd1234", "at-previous-abcd")

	cmd := c.CreateOrAttachCommand("abcd1234", "", "renamed panel")
	if !strings.Contains(cmd, "'at-previous-abcd'") {
		t.Errorf("CreateOrAttachCommand should reuse registered name, got %q", cmd)
	}
}

func TestAttachCommand(t *testing.T) {
	c := &Coordinator{binaryPath: "/opt/homebrew/bin/tmux", sessions: make(map[string]string)}
	cmd := c.AttachCommand("at-build-6f96")
	expected := "TERM=xterm-256color /opt/homebrew/bin/tmux -u attach-session -t 'at-build-6f96'"
	if cmd != expected {
		t.Errorf("AttachCommand = %q, want %q", cmd, expected)
	}
}

func TestKillSessionRefusesForeignNames(t *testing.T) {
	c := &Coordinator{binaryPath: "tmux", sessions: make(map[string]string)}
	if err := c.KillSession("main"); err == nil {
		t.Error("KillSession accepted a session without the ownership prefix")
	}
}

func TestSessionRegistry(t *testing.T) {
	c := NewCoordinator()

	name := c.SessionNameFor("abcd1234", "build")
	if got, ok := c.RegisteredName("abcd1234"); !ok || got != name {
		t.Errorf("RegisteredName = %q, %v, want %q, true", got, ok, name)
	}

	again := c.SessionNameFor("abcd1234", "a different title")
	if again != name {
		t.Errorf("SessionNameFor generated a new name %q, want registered %q", again, name)
	}

	c.ForgetSession("abcd1234")
	if _, ok := c.RegisteredName("abcd1234"); ok {
		t.Error("RegisteredName returned an entry after ForgetSession")
	}
}

package session

import (
	"os"
	"strings"
	"sync"
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

// fakeClient records frames the pump sends.
type fakeClient struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (c *fakeClient) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, text)
	return nil
}

func (c *fakeClient) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.frames, "")
}

// waitForOutput polls until the client has seen substr or the timeout passes.
func waitForOutput(t *testing.T, c *fakeClient, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if strings.Contains(c.output(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got %q", substr, c.output())
}

// newPipeSession builds a session whose "pty" is the read end of a pipe, so
// tests can feed output by writing to w.
func newPipeSession(t *testing.T) (*Session, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	s := &Session{
		ID:         "test-session",
		WorkingDir: "/tmp",
		ptmx:       r,
		now:        time.Now,
	}
	t.Cleanup(func() {
		s.Terminate()
		w.Close()
	})
	return s, w
}

func TestReadPumpForwardsOutput(t *testing.T) {
	s, w := newPipeSession(t)
	client := &fakeClient{}
	s.Attach(client)

	if _, err := w.WriteString("hello from the shell"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForOutput(t, client, "hello from the shell", 2*time.Second)
}

func TestReadPumpFallsBackToLatin1(t *testing.T) {
	s, w := newPipeSession(t)
	client := &fakeClient{}
	s.Attach(client)

	if _, err := w.Write([]byte{0xff, 0xfe, 'o', 'k'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 0xff and 0xfe are not valid UTF-8, so they come through as their
	// Latin-1 code points.
	waitForOutput(t, client, "ÿþok", 2*time.Second)
}

func TestReadPumpEmitsExitNotice(t *testing.T) {
	s, w := newPipeSession(t)
	client := &fakeClient{}
	s.Attach(client)

	if _, err := w.WriteString("bye"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForOutput(t, client, "bye", 2*time.Second)

	w.Close()
	waitForOutput(t, client, "[Process exited]", 2*time.Second)
}

func TestDetachStopsPump(t *testing.T) {
	s, w := newPipeSession(t)
	client := &fakeClient{}
	s.Attach(client)

	if _, err := w.WriteString("before"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForOutput(t, client, "before", 2*time.Second)

	s.Detach()
	if !s.IsOrphaned() {
		t.Error("session should be orphaned after Detach")
	}
	if s.LastDisconnectedAt().IsZero() {
		t.Error("LastDisconnectedAt should be stamped after Detach")
	}

	if _, err := w.WriteString("while detached"); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if strings.Contains(client.output(), "while detached") {
		t.Errorf("detached client received output: %q", client.output())
	}
}

func TestReattachResumesOutput(t *testing.T) {
	s, w := newPipeSession(t)
	first := &fakeClient{}
	s.Attach(first)
	s.Detach()

	second := &fakeClient{}
	s.Reattach(second)
	if s.IsOrphaned() {
		t.Error("session should not be orphaned after Reattach")
	}
	if !s.LastDisconnectedAt().IsZero() {
		t.Error("LastDisconnectedAt should be cleared after Reattach")
	}

	if _, err := w.WriteString("after reattach"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForOutput(t, second, "after reattach", 2*time.Second)
	if strings.Contains(first.output(), "after reattach") {
		t.Errorf("old client received output after reattach: %q", first.output())
	}
}

func TestWriteReachesPty(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	s := &Session{ID: "test-write", ptmx: w, now: time.Now}

	if err := s.Write("ls -la\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	buf := make([]byte, 64)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "ls -la\n" {
		t.Errorf("pty received %q, want %q", got, "ls -la\n")
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	s, _ := newPipeSession(t)
	client := &fakeClient{}
	s.Attach(client)

	s.Terminate()
	s.Terminate()

	if s.IsOrphaned() {
		t.Error("terminated session should not count as orphaned")
	}

	// Attach after terminate is a no-op.
	s.Attach(&fakeClient{})
	if !s.LastDisconnectedAt().IsZero() {
		t.Error("Attach after Terminate should not mutate the session")
	}
}

func TestDecodeTerminalOutput(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "plain ascii",
			input:    []byte("ls -la\r\n"),
			expected: "ls -la\r\n",
		},
		{
			name:     "valid multibyte utf8",
			input:    []byte("héllo ⚡"),
			expected: "héllo ⚡",
		},
		{
			name:     "invalid bytes become latin1",
			input:    []byte{0xff, 0x41, 0xfe},
			expected: "ÿAþ",
		},
		{
			name:     "empty",
			input:    []byte{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeTerminalOutput(tt.input)
			if got != tt.expected {
				t.Errorf("decodeTerminalOutput(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSpawnLoginShell(t *testing.T) {
	shell := loginShell()
	if _, err := os.Stat(shell); err != nil {
		t.Skipf("login shell %s not available: %v", shell, err)
	}

	s, err := Spawn(Options{WorkingDir: os.TempDir(), Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer s.Terminate()

	if s.ID == "" {
		t.Error("Spawn should assign a session id")
	}

	client := &fakeClient{}
	s.Attach(client)

	if err := s.Write("echo spawn-test-marker\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitForOutput(t, client, "spawn-test-marker", 5*time.Second)

	if err := s.Resize(120, 40); err != nil {
		t.Errorf("Resize: %v", err)
	}
}

package web

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialWS opens a WebSocket against a test server path.
func dialWS(t *testing.T, env *testServer, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSONFrame reads text frames until one parses as a JSON object, skipping
// raw PTY output.
func readJSONFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		var obj map[string]any
		if err := json.Unmarshal(message, &obj); err == nil {
			return obj
		}
	}
	t.Fatal("no JSON frame before deadline")
	return nil
}

func TestStateChannelCorrelatesCommandResponses(t *testing.T) {
	host := &fakeHost{replies: map[string]string{"workspace.select": `{"ok":true}`}}
	env := newTestServer(t, host, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws")
	cmd := `{"jsonrpc":"2.0","method":"workspace.select","params":{"id":"w1"},"id":7}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatal(err)
	}

	reply := readJSONFrame(t, conn, 2*time.Second)
	if id, ok := reply["id"].(float64); !ok || id != 7 {
		t.Errorf("reply id = %v, want 7", reply["id"])
	}
	if ok, _ := reply["ok"].(bool); !ok {
		t.Errorf("reply = %v, want ok", reply)
	}
}

func TestStateChannelCorrelationSurvivesHostileReply(t *testing.T) {
	// A reply that is not JSON and contains quote, backslash and newline must
	// still round-trip intact inside the correlation envelope.
	hostile := "she said \"hi\\there\"\nsecond line"
	host := &fakeHost{replies: map[string]string{"echo": hostile}}
	env := newTestServer(t, host, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"echo","id":"req-1"}`)); err != nil {
		t.Fatal(err)
	}

	reply := readJSONFrame(t, conn, 2*time.Second)
	if reply["id"] != "req-1" {
		t.Errorf("id = %v, want req-1", reply["id"])
	}
	if reply["result"] != hostile {
		t.Errorf("result = %q, want %q", reply["result"], hostile)
	}
}

func TestStateChannelIgnoresPong(t *testing.T) {
	host := &fakeHost{}
	env := newTestServer(t, host, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatal(err)
	}

	// A pong must not reach the host as a command.
	time.Sleep(100 * time.Millisecond)
	if cmd := host.lastCommand(); cmd != "" {
		t.Errorf("pong was forwarded to the host: %q", cmd)
	}
}

func TestStateClientCountTracksConnections(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws")
	waitFor(t, time.Second, func() bool { return env.srv.Broadcaster().ClientCount() == 1 })

	conn.Close()
	waitFor(t, time.Second, func() bool { return env.srv.Broadcaster().ClientCount() == 0 })
}

func TestTerminalChannelRejectsUnknownFirstMessage(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws/terminal")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input","data":"ls\n"}`)); err != nil {
		t.Fatal(err)
	}

	reply := readJSONFrame(t, conn, 2*time.Second)
	if reply["error"] != "Expected init or reconnect message" {
		t.Errorf("reply = %v, want init-or-reconnect error", reply)
	}
}

func TestTerminalChannelReconnectUnknownSession(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws/terminal")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reconnect","sessionId":"nope"}`)); err != nil {
		t.Fatal(err)
	}

	reply := readJSONFrame(t, conn, 2*time.Second)
	if reply["type"] != "reconnect_failed" {
		t.Errorf("reply = %v, want reconnect_failed", reply)
	}
}

func TestTerminalChannelSpawnsShell(t *testing.T) {
	t.Setenv("SHELL", "/bin/sh")
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws/terminal")
	init := `{"type":"init","dir":"` + t.TempDir() + `","cols":80,"rows":24}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(init)); err != nil {
		t.Fatal(err)
	}

	created := readJSONFrame(t, conn, 5*time.Second)
	if created["type"] != "session_created" {
		t.Fatalf("first frame = %v, want session_created", created)
	}
	sessionID, _ := created["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("session_created without sessionId")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input","data":"echo cmux_marker\n"}`)); err != nil {
		t.Fatal(err)
	}
	if !readUntilText(conn, "cmux_marker", 5*time.Second) {
		t.Error("shell output never echoed the input")
	}
}

func TestTerminalChannelReattachAfterDisconnect(t *testing.T) {
	t.Setenv("SHELL", "/bin/sh")
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws/terminal")
	init := `{"type":"init","dir":"` + t.TempDir() + `","cols":80,"rows":24}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(init)); err != nil {
		t.Fatal(err)
	}
	created := readJSONFrame(t, conn, 5*time.Second)
	sessionID, _ := created["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in %v", created)
	}

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return env.manager.FindOrphanByID(sessionID) != nil })

	conn2 := dialWS(t, env, "/ws/terminal")
	reconnect := `{"type":"reconnect","sessionId":"` + sessionID + `"}`
	if err := conn2.WriteMessage(websocket.TextMessage, []byte(reconnect)); err != nil {
		t.Fatal(err)
	}
	reply := readJSONFrame(t, conn2, 5*time.Second)
	if reply["type"] != "reconnected" || reply["sessionId"] != sessionID {
		t.Fatalf("reply = %v, want reconnected with same id", reply)
	}

	// The same shell keeps accepting input after the swap.
	if err := conn2.WriteMessage(websocket.TextMessage, []byte(`{"type":"input","data":"echo back_again\n"}`)); err != nil {
		t.Fatal(err)
	}
	if !readUntilText(conn2, "back_again", 5*time.Second) {
		t.Error("reattached shell produced no output")
	}
}

func TestTerminalChannelIgnoresBinaryFrames(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws/terminal")
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	// Still unattached: a protocol error frame only arrives for text messages.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatal(err)
	}
	reply := readJSONFrame(t, conn, 2*time.Second)
	if reply["error"] != "Expected init or reconnect message" {
		t.Errorf("reply = %v", reply)
	}
}

// readUntilText scans frames for a substring until the timeout.
func readUntilText(conn *websocket.Conn, want string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		if strings.Contains(string(message), want) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

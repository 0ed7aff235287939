package web

import (
	"testing"
	"time"

	"cmux-remote/web/types"

	"github.com/gorilla/websocket"
)

func TestBroadcastStateReachesAllClients(t *testing.T) {
	host := &fakeHost{workspaces: []types.Workspace{{ID: "w1", Title: "One"}}}
	env := newTestServer(t, host, time.Second, t.TempDir())

	conns := []*websocket.Conn{
		dialWS(t, env, "/ws"),
		dialWS(t, env, "/ws"),
		dialWS(t, env, "/ws"),
	}
	waitFor(t, time.Second, func() bool { return env.srv.Broadcaster().ClientCount() == 3 })

	env.srv.Broadcaster().broadcastState()

	for i, conn := range conns {
		msg := readJSONFrame(t, conn, 2*time.Second)
		if msg["type"] != "state" {
			t.Errorf("client %d: type = %v, want state", i, msg["type"])
			continue
		}
		data, ok := msg["data"].([]any)
		if !ok || len(data) != 1 {
			t.Errorf("client %d: data = %v, want one workspace", i, msg["data"])
		}
		if _, ok := msg["tmuxSessions"]; !ok {
			t.Errorf("client %d: state message missing tmuxSessions", i)
		}
	}
}

func TestBroadcastStateSkipsWithoutClients(t *testing.T) {
	host := &fakeHost{}
	env := newTestServer(t, host, time.Second, t.TempDir())

	env.srv.Broadcaster().broadcastState()
	time.Sleep(50 * time.Millisecond)

	if n := host.snapshotCount(); n != 0 {
		t.Errorf("host snapshotted %d times with no clients connected, want 0", n)
	}
}

func TestForwardNotificationFansOut(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws")
	waitFor(t, time.Second, func() bool { return env.srv.Broadcaster().ClientCount() == 1 })

	env.srv.Broadcaster().ForwardNotification(types.Notification{
		ID:    "n1",
		Title: "Build finished",
		TabID: "w1",
	})

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "notification" || msg["title"] != "Build finished" {
		t.Errorf("frame = %v, want notification", msg)
	}
}

func TestBroadcastPing(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())

	conn := dialWS(t, env, "/ws")
	waitFor(t, time.Second, func() bool { return env.srv.Broadcaster().ClientCount() == 1 })

	env.srv.Broadcaster().broadcastPing()

	msg := readJSONFrame(t, conn, 2*time.Second)
	if msg["type"] != "ping" {
		t.Errorf("frame = %v, want ping", msg)
	}
}

func TestTmuxRefreshThrottled(t *testing.T) {
	env := newTestServer(t, &fakeHost{}, time.Second, t.TempDir())
	b := env.srv.Broadcaster()

	// A fresh cache stamp inside the throttle window must prevent a refresh.
	b.mu.Lock()
	b.tmuxRefreshedAt = time.Now()
	b.mu.Unlock()

	b.maybeRefreshTmux()

	b.mu.Lock()
	refreshing := b.tmuxRefreshing
	b.mu.Unlock()
	if refreshing {
		t.Error("refresh started inside the throttle window")
	}
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"cmux-remote/log"
	"cmux-remote/session"
	"cmux-remote/tmux"

	"github.com/gorilla/websocket"
)

// terminalPingInterval is how often the server pings a terminal client to
// keep intermediate proxies from dropping an idle connection.
const terminalPingInterval = 30 * time.Second

// terminalMessage is the envelope for all JSON frames on /ws/terminal.
type terminalMessage struct {
	Type      string `json:"type"`
	Dir       string `json:"dir"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	Tmux      string `json:"tmux"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// TerminalWebSocketHandler serves the /ws/terminal channel. A client starts
// unattached and sends either init (spawn or adopt an orphan) or reconnect
// (adopt a specific orphan by id); once attached, input and resize messages
// drive the PTY and its output streams back as raw text frames. A disconnect
// orphans the session for the manager's grace period instead of killing it.
func TerminalWebSocketHandler(manager *session.Manager, coordinator *tmux.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.FileOnlyErrorLog.Printf("WebSocket: terminal upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}

		client := NewClient(conn)
		log.FileOnlyInfoLog.Printf("WebSocket: terminal client connected from %s", client.RemoteAddr())

		pingDone := make(chan struct{})
		go pingLoop(client, pingDone)

		defer func() {
			close(pingDone)
			manager.Detach(client)
			client.Close()
			log.FileOnlyInfoLog.Printf("WebSocket: terminal client disconnected from %s", client.RemoteAddr())
		}()

		// attached is nil until an init or reconnect succeeds.
		var attached *session.Session

		for {
			msgType, message, err := client.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			if attached == nil {
				attached = handleUnattached(manager, coordinator, client, message)
				continue
			}

			var msg terminalMessage
			if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
				// Not a protocol message; the whole payload is shell input.
				if err := attached.Write(string(message)); err != nil {
					log.FileOnlyWarningLog.Printf("WebSocket: raw input write failed for session %s: %v", attached.ID, err)
				}
				continue
			}

			switch msg.Type {
			case "input":
				if err := attached.Write(msg.Data); err != nil {
					log.FileOnlyWarningLog.Printf("WebSocket: input write failed for session %s: %v", attached.ID, err)
				}
			case "resize":
				if err := attached.Resize(msg.Cols, msg.Rows); err != nil {
					log.FileOnlyWarningLog.Printf("WebSocket: resize failed for session %s: %v", attached.ID, err)
				}
			case "pong":
				// Keep-alive, nothing to do.
			default:
				// Unknown types are ignored so newer clients stay compatible.
			}
		}
	}
}

// handleUnattached processes one message in the unattached state and returns
// the session the client ended up attached to, or nil to stay unattached.
func handleUnattached(manager *session.Manager, coordinator *tmux.Coordinator, client *Client, message []byte) *session.Session {
	var msg terminalMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
		sendError(client, "Expected init or reconnect message")
		return nil
	}

	switch msg.Type {
	case "reconnect":
		if s := manager.FindOrphanByID(msg.SessionID); s != nil && manager.Reattach(s.ID, client) {
			client.SendJSON(map[string]string{"type": "reconnected", "sessionId": s.ID})
			log.FileOnlyInfoLog.Printf("WebSocket: client %s reattached to session %s", client.RemoteAddr(), s.ID)
			return s
		}
		client.SendJSON(map[string]string{"type": "reconnect_failed"})
		return nil

	case "init":
		dir := msg.Dir
		if info, err := os.Stat(dir); dir == "" || err != nil || !info.IsDir() {
			if home, err := os.UserHomeDir(); err == nil {
				dir = home
			}
		}
		cols, rows := msg.Cols, msg.Rows
		if cols <= 0 {
			cols = 80
		}
		if rows <= 0 {
			rows = 24
		}

		// Prefer adopting an orphan over spawning: first by tmux session
		// name, then by working directory.
		if msg.Tmux != "" {
			if s := manager.FindOrphanByTmux(msg.Tmux); s != nil && manager.Reattach(s.ID, client) {
				client.SendJSON(map[string]string{"type": "reconnected", "sessionId": s.ID})
				return s
			}
		}
		if orphans := manager.FindOrphansByDir(dir); len(orphans) > 0 {
			if s := orphans[0]; manager.Reattach(s.ID, client) {
				client.SendJSON(map[string]string{"type": "reconnected", "sessionId": s.ID})
				return s
			}
		}

		s, err := manager.CreateFor(client, dir, cols, rows, msg.Tmux, coordinator.BinaryPath())
		if err != nil {
			log.FileOnlyErrorLog.Printf("WebSocket: spawn failed for %s: %v", client.RemoteAddr(), err)
			client.Send(fmt.Sprintf("\r\n[Failed to create terminal: %v]\r\n", err))
			return nil
		}
		client.SendJSON(map[string]string{"type": "session_created", "sessionId": s.ID})
		log.FileOnlyInfoLog.Printf("WebSocket: client %s created session %s in %s", client.RemoteAddr(), s.ID, dir)
		return s

	default:
		sendError(client, "Expected init or reconnect message")
		return nil
	}
}

func sendError(client *Client, msg string) {
	client.SendJSON(map[string]string{"error": msg})
}

// pingLoop sends protocol-level pings until the connection handler returns.
func pingLoop(client *Client, done <-chan struct{}) {
	ticker := time.NewTicker(terminalPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := client.SendJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

package handlers

import (
	"encoding/json"
	"net/http"

	"cmux-remote/bridge"
	"cmux-remote/log"

	"github.com/gorilla/websocket"
)

// upgrader is shared by both WebSocket endpoints. The server sits behind a
// trusted overlay network, so cross-origin upgrades are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientRegistry is the broadcaster's view of state clients. Registered
// clients receive state, notification and ping frames until unregistered.
type ClientRegistry interface {
	Register(c *Client)
	Unregister(c *Client)
}

// StateWebSocketHandler serves the /ws channel: the client receives periodic
// state broadcasts and may send bridge commands, whose replies are correlated
// by id.
func StateWebSocketHandler(registry ClientRegistry, b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.FileOnlyErrorLog.Printf("WebSocket: state upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}

		client := NewClient(conn)
		registry.Register(client)
		log.FileOnlyInfoLog.Printf("WebSocket: state client connected from %s", client.RemoteAddr())

		defer func() {
			registry.Unregister(client)
			client.Close()
			log.FileOnlyInfoLog.Printf("WebSocket: state client disconnected from %s", client.RemoteAddr())
		}()

		for {
			msgType, message, err := client.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			var probe struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(message, &probe); err == nil && probe.Type == "pong" {
				continue
			}

			// Everything else is a command for the host. The reply carries
			// the request id back when the client set one.
			reply := b.ExecuteCorrelated(string(message))
			if reply == "" {
				continue
			}
			if err := client.Send(reply); err != nil {
				log.FileOnlyWarningLog.Printf("WebSocket: state reply send failed for %s: %v", client.RemoteAddr(), err)
				return
			}
		}
	}
}

package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single frame write may block on a slow socket.
const writeWait = 10 * time.Second

// Client wraps one WebSocket connection with serialized writes. The read pump,
// the broadcaster and the per-session PTY pump all write concurrently, and
// gorilla connections allow only one writer at a time.
//
// Clients are compared by identity: the same *Client value is the key in the
// PTY manager's maps and in the broadcaster's client set.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// Send writes one text frame. This is the session.Client contract; the PTY
// read pump calls it from its own goroutine.
func (c *Client) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// SendJSON marshals v and sends it as a text frame.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(string(data))
}

// ReadMessage reads the next frame from the connection.
func (c *Client) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address for logging.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

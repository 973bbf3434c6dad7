package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is how long a silent client is kept; clients ping well within it.
	readWait = 5 * time.Minute
)

// Conn serialises writes to a WebSocket. Session events arrive from timer
// goroutines while the read loop answers actions, and gorilla connections
// support only one concurrent writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(errMsg string, fields map[string]string) error {
	return c.WriteTyped(ErrorResponse{
		Event:  EventError,
		Error:  errMsg,
		Fields: fields,
	})
}

// ReadMessage reads one text frame. It sets a read deadline.
func (c *Conn) ReadMessage() ([]byte, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close sends a normal closure frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

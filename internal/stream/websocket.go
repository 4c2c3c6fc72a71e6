package stream

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is one live push transport connection
type Conn interface {
	// Read blocks until the next text frame or a transport error
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame
	Write(ctx context.Context, data []byte) error
	// Close tears the connection down; a blocked Read returns with an error
	Close() error
}

// Dialer opens push transport connections. The production implementation
// speaks WebSocket; tests substitute a scripted fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials the review event stream over WebSocket
type WebSocketDialer struct{}

// Dial opens a WebSocket connection to the given URL
func (WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
}

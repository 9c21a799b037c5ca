package quill

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Pinger is implemented by connections that support keep-alive probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WebSocketOptions tunes a WebSocket connection.
type WebSocketOptions struct {
	// ReadLimit caps inbound message size in bytes. Zero means no limit.
	ReadLimit int64
	// WriteTimeout bounds each write. Zero means no timeout.
	WriteTimeout time.Duration
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketConn adapts a gorilla WebSocket to Conn. Read ignores ctx;
// closing the connection unblocks it.
func NewWebSocketConn(ws *websocket.Conn, opts WebSocketOptions) Conn {
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &wsConn{ws: ws, writeTimeout: opts.WriteTimeout}
}

func (c *wsConn) Read(_ context.Context) ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, c.deadline(ctx))
}

// Close sends a close frame and closes the socket. Only the first call
// does anything.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) deadline(ctx context.Context) time.Time {
	var d time.Time
	if c.writeTimeout > 0 {
		d = time.Now().Add(c.writeTimeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// Package connection implements the client side of the realtime channel: a
// websocket transport plus a manager that layers reconnection, heartbeat and
// typed message dispatch on top of it.
package connection

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one persistent bidirectional socket. Implementations only provide
// the raw mechanics; lifecycle policy lives in the Manager.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the socket dies.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Transport opens connections to an endpoint.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const (
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
)

// WebSocketTransport dials websocket endpoints.
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates the default transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial opens a websocket connection to url.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	// Best-effort close frame so the peer sees a clean shutdown.
	deadline := time.Now().Add(closeGracePeriod)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

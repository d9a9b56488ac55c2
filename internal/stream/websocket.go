package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a ping to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// WebSocketTransport opens the notification stream over a WebSocket
// connection instead of SSE. Deployments behind proxies that buffer
// event-stream responses use this.
type WebSocketTransport struct {
	url    string
	auth   AuthFunc
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a WebSocket transport for the given URL
// (ws:// or wss://).
func NewWebSocketTransport(url string, auth AuthFunc) *WebSocketTransport {
	return &WebSocketTransport{url: url, auth: auth, dialer: websocket.DefaultDialer}
}

// Dial opens the connection with credentials attached and starts the ping
// loop that keeps it alive.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if t.auth != nil {
		value, err := t.auth()
		if err != nil {
			return nil, fmt.Errorf("failed to attach credentials: %w", err)
		}
		header.Set("Authorization", value)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c := &wsConn{conn: conn, stop: make(chan struct{})}
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	conn    *websocket.Conn
	stop    chan struct{}
	closing sync.Once
}

func (c *wsConn) Receive() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *wsConn) Close() error {
	c.closing.Do(func() { close(c.stop) })
	return c.conn.Close()
}

// pingLoop keeps the connection alive; a failed ping lets the read side
// observe the broken transport.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

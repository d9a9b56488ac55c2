package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// State is the connection state of the notification stream client.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Backoff      State = "backoff"
)

// Conn is one live stream connection. Receive blocks until the next raw
// payload arrives or the transport fails; Close must unblock a pending
// Receive.
type Conn interface {
	Receive() ([]byte, error)
	Close() error
}

// Transport opens stream connections. The client owns at most one Conn at a
// time and always closes the old one before dialing again.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// UpdateFunc observes unread-count updates.
type UpdateFunc func(unreadCount int)

// Client maintains a long-lived push-notification stream: it reconnects with
// capped exponential backoff on any transport failure and never surfaces
// those failures to its subscriber. Transport errors only mean the unread
// count stops updating until the stream is re-established.
type Client struct {
	transport   Transport
	backoffBase time.Duration
	backoffMax  time.Duration
	onUpdate    UpdateFunc

	mu          sync.Mutex
	state       State
	conn        Conn
	cancel      context.CancelFunc
	done        chan struct{}
	retryDelay  time.Duration
	unreadCount int
}

// NewClient creates a stream client. backoffBase is the first reconnect
// delay; the delay doubles on repeated failures up to backoffMax.
func NewClient(transport Transport, backoffBase, backoffMax time.Duration, onUpdate UpdateFunc) *Client {
	if backoffBase <= 0 {
		backoffBase = 5 * time.Second
	}
	if backoffMax < backoffBase {
		backoffMax = backoffBase
	}
	return &Client{
		transport:   transport,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		onUpdate:    onUpdate,
		state:       Disconnected,
	}
}

// Start begins connecting. Calling Start while the client is already running
// is a no-op; no second connection is ever opened.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = Connecting
	c.retryDelay = c.backoffBase

	go c.run(ctx)
}

// Stop tears the client down deterministically: it cancels a pending backoff
// timer, closes the live connection and waits for the run loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UnreadCount returns the last unread count received.
func (c *Client) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadCount
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.state = Disconnected
		c.conn = nil
		close(c.done)
		c.mu.Unlock()
	}()

	for {
		c.setState(Connecting)

		conn, err := c.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("notification stream connect failed", slog.String("error", err.Error()))
			if !c.waitBackoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.state = Connected
		c.retryDelay = c.backoffBase
		c.mu.Unlock()
		slog.Info("notification stream connected")

		c.readLoop(ctx, conn)

		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if !c.waitBackoff(ctx) {
			return
		}
	}
}

// readLoop consumes payloads until the transport fails. Unparseable payloads
// and unknown event types are ignored without closing the connection.
func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		payload, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("notification stream dropped", slog.String("error", err.Error()))
			}
			return
		}

		var event types.NotificationEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			slog.Debug("ignoring unparseable stream payload", slog.String("error", err.Error()))
			continue
		}
		if event.Type != types.NotificationUpdate {
			continue
		}

		c.mu.Lock()
		c.unreadCount = event.UnreadCount
		onUpdate := c.onUpdate
		c.mu.Unlock()

		if onUpdate != nil {
			onUpdate(event.UnreadCount)
		}
	}
}

// waitBackoff sleeps for the current retry delay, growing it for the next
// attempt. Returns false when the client was stopped while waiting.
func (c *Client) waitBackoff(ctx context.Context) bool {
	c.mu.Lock()
	c.state = Backoff
	delay := c.retryDelay
	c.retryDelay *= 2
	if c.retryDelay > c.backoffMax {
		c.retryDelay = c.backoffMax
	}
	c.mu.Unlock()

	// Jitter keeps a fleet of clients from reconnecting in lockstep.
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

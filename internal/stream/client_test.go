package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeConn delivers scripted payloads and fails when closed.
type fakeConn struct {
	events  chan []byte
	closed  chan struct{}
	closing sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case payload := <-c.events:
		return payload, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closing.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeTransport fails the first failures dials, then hands out fresh conns.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++
	if t.dials <= t.failures {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %s, client is %s", want, c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClient_ReconnectLiveness(t *testing.T) {
	transport := &fakeTransport{failures: 3}
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, nil)

	client.Start()
	defer client.Stop()

	waitForState(t, client, Connected)
	if transport.dialCount() != 4 {
		t.Fatalf("expected 4 dials (3 failures + 1 success), got %d", transport.dialCount())
	}
}

func TestClient_DeliversUnreadCount(t *testing.T) {
	transport := &fakeTransport{}
	got := make(chan int, 16)
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, func(unread int) {
		got <- unread
	})

	client.Start()
	defer client.Stop()
	waitForState(t, client, Connected)

	conn := transport.lastConn()
	conn.events <- []byte(`{"type": "NOTIFICATION_UPDATE", "unreadCount": 7}`)

	select {
	case unread := <-got:
		if unread != 7 {
			t.Fatalf("expected unread 7, got %d", unread)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unread update")
	}
	if client.UnreadCount() != 7 {
		t.Fatalf("expected stored unread 7, got %d", client.UnreadCount())
	}
}

func TestClient_IgnoresUnparseableAndForeignPayloads(t *testing.T) {
	transport := &fakeTransport{}
	got := make(chan int, 16)
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, func(unread int) {
		got <- unread
	})

	client.Start()
	defer client.Stop()
	waitForState(t, client, Connected)

	conn := transport.lastConn()
	conn.events <- []byte(`not json at all`)
	conn.events <- []byte(`{"type": "SOMETHING_ELSE", "unreadCount": 99}`)
	conn.events <- []byte(`{"type": "NOTIFICATION_UPDATE", "unreadCount": 3}`)

	select {
	case unread := <-got:
		if unread != 3 {
			t.Fatalf("expected the garbage to be skipped, got unread %d", unread)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unread update")
	}
	if client.State() != Connected {
		t.Fatalf("bad payloads must not drop the connection, state is %s", client.State())
	}
	if transport.dialCount() != 1 {
		t.Fatalf("expected a single connection, got %d dials", transport.dialCount())
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, nil)

	client.Start()
	defer client.Stop()
	waitForState(t, client, Connected)

	transport.lastConn().Close()

	deadline := time.Now().Add(3 * time.Second)
	for transport.dialCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("client never redialed after drop")
		}
		time.Sleep(time.Millisecond)
	}
	waitForState(t, client, Connected)
}

func TestClient_StartIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, nil)

	client.Start()
	defer client.Stop()
	waitForState(t, client, Connected)

	client.Start()
	client.Start()

	time.Sleep(10 * time.Millisecond)
	if transport.dialCount() != 1 {
		t.Fatalf("expected 1 connection open, got %d", transport.dialCount())
	}
}

func TestClient_BackoffGrowsAndCaps(t *testing.T) {
	base := 5 * time.Millisecond
	max := 20 * time.Millisecond
	transport := &fakeTransport{failures: 1 << 30}
	client := NewClient(transport, base, max, nil)

	readDelay := func() time.Duration {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.retryDelay
	}

	client.Start()
	defer client.Stop()

	// The pending delay starts at the base, doubles on every failed attempt
	// and clamps at the cap.
	prev := readDelay()
	if prev < base {
		t.Fatalf("initial delay %v below base %v", prev, base)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("delay never reached the cap, stuck at %v", prev)
		}
		delay := readDelay()
		if delay < prev {
			t.Fatalf("delay shrank: %v -> %v", prev, delay)
		}
		if delay > max {
			t.Fatalf("delay %v exceeded cap %v", delay, max)
		}
		prev = delay
		if delay == max {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Further failures keep the delay pinned at the cap.
	dials := transport.dialCount()
	deadline = time.Now().Add(3 * time.Second)
	for transport.dialCount() < dials+2 {
		if time.Now().After(deadline) {
			t.Fatal("client stopped redialing")
		}
		time.Sleep(time.Millisecond)
	}
	if delay := readDelay(); delay != max {
		t.Fatalf("expected delay pinned at %v, got %v", max, delay)
	}
}

func TestClient_StopClosesConnection(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, nil)

	client.Start()
	waitForState(t, client, Connected)
	conn := transport.lastConn()

	client.Stop()

	if !conn.isClosed() {
		t.Fatal("expected underlying connection to be closed")
	}
	if client.State() != Disconnected {
		t.Fatalf("expected %s, got %s", Disconnected, client.State())
	}
}

func TestClient_StopFromBackoff(t *testing.T) {
	// Transport always fails, so the client sits in long backoff waits.
	transport := &fakeTransport{failures: 1 << 30}
	client := NewClient(transport, time.Minute, time.Hour, nil)

	client.Start()
	waitForState(t, client, Backoff)

	done := make(chan struct{})
	go func() {
		client.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the pending backoff timer")
	}
	if client.State() != Disconnected {
		t.Fatalf("expected %s, got %s", Disconnected, client.State())
	}
}

func TestClient_RestartAfterStop(t *testing.T) {
	transport := &fakeTransport{}
	client := NewClient(transport, 2*time.Millisecond, 20*time.Millisecond, nil)

	client.Start()
	waitForState(t, client, Connected)
	client.Stop()

	client.Start()
	defer client.Stop()
	waitForState(t, client, Connected)

	if transport.dialCount() != 2 {
		t.Fatalf("expected 2 dials across two sessions, got %d", transport.dialCount())
	}
}

package hub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var connSeq atomic.Int64

// fakeConn records every frame sent to it. failSend makes Send error;
// block makes Send wait until the connection is closed.
type fakeConn struct {
	id       string
	failSend bool
	block    bool

	mu        sync.Mutex
	frames    [][]byte
	listeners map[int]func()
	nextID    int
	closed    bool
	done      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:        "conn-" + strconv.FormatInt(connSeq.Add(1), 10),
		listeners: make(map[int]func()),
		done:      make(chan struct{}),
	}
}

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) Transport() string      { return "websocket" }
func (c *fakeConn) RemoteAddr() string     { return "127.0.0.1:5555" }
func (c *fakeConn) ConnectedAt() time.Time { return time.Time{} }
func (c *fakeConn) Done() <-chan struct{}  { return c.done }

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	if c.failSend {
		return errors.New("socket gone")
	}
	if c.block {
		select {
		case <-c.done:
			return errors.New("closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) OnClose(fn func()) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listeners = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (c *fakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeRegistry keeps members per hub name and forgets closed connections,
// like the host transport registry does.
type fakeRegistry struct {
	mu      sync.Mutex
	members map[string]map[string]Member
	liveErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{members: make(map[string]map[string]Member)}
}

func (r *fakeRegistry) Attach(_ context.Context, hubName string, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[hubName] == nil {
		r.members[hubName] = make(map[string]Member)
	}
	r.members[hubName][m.Conn.ID()] = m
	return nil
}

func (r *fakeRegistry) Detach(_ context.Context, hubName, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[hubName], connID)
	return nil
}

func (r *fakeRegistry) Live(_ context.Context, hubName string) ([]Member, error) {
	if r.liveErr != nil {
		return nil, r.liveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Member
	for _, m := range r.members[hubName] {
		select {
		case <-m.Conn.Done():
		default:
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRegistry) Len(hubName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[hubName])
}

func newTestHub(reg Registry) *Hub {
	return New(Config{Name: "test-hub", Registry: reg})
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

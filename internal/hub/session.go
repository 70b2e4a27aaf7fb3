package hub

import (
	"sync"
	"sync/atomic"
)

// State is a session's lifecycle position. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live subscriber tracked by a hub. Outgoing frames are
// queued and written by a single goroutine, so a session sees broadcasts in
// the order they were enqueued.
type Session struct {
	conn     Conn
	name     string
	state    atomic.Int32
	outgoing chan []byte
	done     chan struct{}

	mu          sync.Mutex
	stopOnce    sync.Once
	cancelClose func()
}

func newSession(conn Conn, name string, queueSize int) *Session {
	return &Session{
		conn:     conn,
		name:     name,
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string   { return s.conn.ID() }
func (s *Session) Name() string { return s.name }
func (s *Session) Conn() Conn   { return s.conn }
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) String() string {
	return s.name + "(" + s.conn.ID() + ")"
}

// open moves a connecting session to Open. It fails if the session was
// already stopped.
func (s *Session) open() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// enqueue queues data without blocking. False means the session is closed
// or its queue is full and it should be pruned.
func (s *Session) enqueue(data []byte) bool {
	if s.State() != StateOpen {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outgoing <- data:
		return true
	default:
		return false
	}
}

func (s *Session) setCloseListener(cancel func()) {
	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancelClose = cancel
	s.mu.Unlock()
}

// stop marks the session closed and ends its writer. The connection itself
// is left alone.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		cancel := s.cancelClose
		s.cancelClose = nil
		s.mu.Unlock()

		close(s.done)
		if cancel != nil {
			cancel()
		}
	})
}

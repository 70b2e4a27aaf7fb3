// Package hub implements the relay's connection hub: the single addressable
// owner of the live subscriber set, which fans every broadcast out to each
// session and prunes sessions that cannot take it.
//
// A Hub's session set is a cache of what the Registry reports live for the
// hub's name. The host may drop and recreate a Hub at any time (see
// Directory); Initialize rebuilds the set before the hub serves traffic.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/funkyfirehose/relay/internal/models"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
)

// ErrClosed is returned by Connect once the hub instance has been closed.
// The caller should resolve the hub again through its Directory.
var ErrClosed = errors.New("hub closed")

// Config configures a Hub. Registry is required.
type Config struct {
	Name     string
	Registry Registry
	Upgrader Upgrader

	// NameFunc picks a display name for a newly connected session.
	NameFunc func() string

	// QueueSize bounds each session's pending frames. A session whose queue
	// is full when a broadcast arrives is pruned.
	QueueSize    int
	WriteTimeout time.Duration
}

// Hub tracks live sessions and broadcasts messages to them.
type Hub struct {
	name         string
	registry     Registry
	upgrader     Upgrader
	nameFunc     func() string
	queueSize    int
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	// broadcastMu serializes broadcasts so every session's queue receives
	// them in the order they complete.
	broadcastMu sync.Mutex
	lastActive  atomic.Int64
}

// New creates a Hub. Call Initialize before serving traffic.
func New(cfg Config) *Hub {
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	nameFunc := cfg.NameFunc
	if nameFunc == nil {
		nameFunc = func() string { return "subscriber" }
	}

	h := &Hub{
		name:         cfg.Name,
		registry:     cfg.Registry,
		upgrader:     cfg.Upgrader,
		nameFunc:     nameFunc,
		queueSize:    qs,
		writeTimeout: wt,
		sessions:     make(map[string]*Session),
	}
	h.touch()
	return h
}

// Name returns the logical name the hub is addressed by.
func (h *Hub) Name() string { return h.name }

// Initialize rebuilds the session set from every connection the registry
// still considers live for this hub. It is safe to call more than once;
// sessions already tracked are kept.
func (h *Hub) Initialize(ctx context.Context) error {
	members, err := h.registry.Live(ctx, h.name)
	if err != nil {
		return fmt.Errorf("enumerate live connections for hub %s: %w", h.name, err)
	}

	restored := 0
	for _, m := range members {
		h.mu.Lock()
		_, exists := h.sessions[m.Conn.ID()]
		h.mu.Unlock()
		if exists {
			continue
		}
		if err := h.track(newSession(m.Conn, m.Name, h.queueSize)); err != nil {
			return err
		}
		restored++
	}

	slog.Info("hub: initialized",
		slog.String("hub", h.name),
		slog.Int("restored_sessions", restored),
		slog.Int("sessions", h.Len()))
	return nil
}

// Accept performs the transport handshake for r and connects the result.
// On a failed handshake the upgrader has already answered the client.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request) (Conn, *Session, error) {
	if h.upgrader == nil {
		return nil, nil, errors.New("hub has no upgrader")
	}
	if h.isClosed() {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return nil, nil, ErrClosed
	}
	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return nil, nil, fmt.Errorf("upgrade: %w", err)
	}

	session, err := h.Connect(r.Context(), conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, session, nil
}

// Connect starts tracking an already established connection: it is recorded
// in the registry, inserted into the session set and removed again as soon
// as the transport reports closure.
func (h *Hub) Connect(ctx context.Context, conn Conn) (*Session, error) {
	s := newSession(conn, h.nameFunc(), h.queueSize)

	if err := h.registry.Attach(ctx, h.name, Member{Conn: conn, Name: s.name}); err != nil {
		return nil, fmt.Errorf("attach %s to registry: %w", s, err)
	}

	if err := h.track(s); err != nil {
		h.detach(s)
		return nil, err
	}

	h.touch()
	slog.Info("hub: session connected",
		slog.String("hub", h.name),
		slog.String("session_id", s.ID()),
		slog.String("session_name", s.name),
		slog.String("transport", conn.Transport()),
		slog.String("remote_addr", conn.RemoteAddr()))
	return s, nil
}

// track opens s, inserts it and starts its writer.
func (h *Hub) track(s *Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	s.open()
	h.sessions[s.ID()] = s
	h.mu.Unlock()

	go h.writePump(s)

	s.setCloseListener(s.conn.OnClose(func() {
		h.remove(s, "transport closed")
	}))
	return nil
}

// Broadcast serializes env once and queues it on every tracked session.
// Sessions that cannot take it are pruned; nothing is retried. It returns
// the number of sessions the message was queued for, or ErrClosed when this
// instance has been released.
func (h *Hub) Broadcast(ctx context.Context, env models.Envelope) (int, error) {
	if h.isClosed() {
		return 0, ErrClosed
	}
	if env.Metadata == nil {
		env.Metadata = map[string]string{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}
	return h.BroadcastRaw(ctx, data), nil
}

// BroadcastRaw queues an already serialized frame on every tracked session.
func (h *Hub) BroadcastRaw(_ context.Context, data []byte) int {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	notified := 0
	var failed []*Session
	for _, s := range h.snapshot() {
		if s.enqueue(data) {
			notified++
		} else {
			failed = append(failed, s)
		}
	}

	for _, s := range failed {
		h.drop(s, "send queue full")
	}

	h.touch()
	slog.Debug("hub: broadcast",
		slog.String("hub", h.name),
		slog.Int("notified", notified),
		slog.Int("pruned", len(failed)),
		slog.Int("bytes", len(data)))
	return notified
}

func (h *Hub) writePump(s *Session) {
	for {
		select {
		case data := <-s.outgoing:
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			err := s.conn.Send(ctx, data)
			cancel()
			if err != nil {
				slog.Warn("hub: send failed, pruning session",
					slog.String("hub", h.name),
					slog.String("session_id", s.ID()),
					slog.Any("error", err))
				h.drop(s, "send failed")
				return
			}
		case <-s.done:
			return
		}
	}
}

// drop prunes a session whose delivery failed and closes its connection.
func (h *Hub) drop(s *Session, reason string) {
	if h.remove(s, reason) {
		s.conn.Close()
	}
}

// remove deletes s from the session set and the registry. It reports
// whether s was still tracked.
func (h *Hub) remove(s *Session, reason string) bool {
	h.mu.Lock()
	current, ok := h.sessions[s.ID()]
	if ok && current == s {
		delete(h.sessions, s.ID())
	}
	h.mu.Unlock()

	s.stop()
	if !ok || current != s {
		return false
	}

	h.detach(s)
	slog.Info("hub: session removed",
		slog.String("hub", h.name),
		slog.String("session_id", s.ID()),
		slog.String("session_name", s.name),
		slog.String("reason", reason))
	return true
}

func (h *Hub) detach(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.registry.Detach(ctx, h.name, s.ID()); err != nil {
		slog.Error("hub: failed to detach session from registry",
			slog.String("hub", h.name),
			slog.String("session_id", s.ID()),
			slog.Any("error", err))
	}
}

func (h *Hub) snapshot() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Sessions returns a snapshot of the tracked sessions.
func (h *Hub) Sessions() []*Session { return h.snapshot() }

// Len returns the number of tracked sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// LastActive is the last time the hub connected a session or broadcast.
func (h *Hub) LastActive() time.Time {
	return time.Unix(0, h.lastActive.Load())
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) touch() { h.lastActive.Store(time.Now().UnixNano()) }

// Close releases this hub instance. Session writers stop, but connections
// stay open and stay in the registry so the next instance can restore them.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
	slog.Info("hub: closed", slog.String("hub", h.name), slog.Int("released_sessions", len(sessions)))
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/funkyfirehose/relay/internal/hub"
)

const defaultHeartbeat = 30 * time.Second

// Stream is a read-only subscriber connection over Server-Sent Events.
// It lives for as long as the HTTP request that opened it.
type Stream struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	closed    bool
	listeners *closeListeners
}

// SSEUpgrader turns an event-stream request into a Stream.
type SSEUpgrader struct {
	Heartbeat time.Duration
}

// Upgrade writes the event-stream headers and an initial "connected" event.
// A heartbeat comment is sent periodically to keep proxies from timing out.
func (u *SSEUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (hub.Conn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return nil, errors.New("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s := &Stream{
		id:          uuid.New().String(),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now().UTC(),
		w:           w,
		flusher:     flusher,
		listeners:   newCloseListeners(),
	}

	fmt.Fprintf(w, "event: connected\ndata: %q\n\n", s.id)
	flusher.Flush()

	heartbeat := u.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	go s.keepAlive(r.Context(), heartbeat)
	return s, nil
}

func (s *Stream) ID() string             { return s.id }
func (s *Stream) Transport() string      { return "sse" }
func (s *Stream) RemoteAddr() string     { return s.remoteAddr }
func (s *Stream) ConnectedAt() time.Time { return s.connectedAt }
func (s *Stream) Done() <-chan struct{}  { return s.listeners.done() }

func (s *Stream) OnClose(fn func()) func() { return s.listeners.add(fn) }

// Send writes one "message" event. data must not contain newlines, which
// holds for compact JSON.
func (s *Stream) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write to %s: %w", s.id, err)
	}
	s.flusher.Flush()
	return nil
}

// Close ends the stream. The handler that opened it returns once Done is closed.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.listeners.fire()
	return nil
}

func (s *Stream) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.closed {
				fmt.Fprint(s.w, ": heartbeat\n\n")
				s.flusher.Flush()
			}
			s.mu.Unlock()
		}
	}
}

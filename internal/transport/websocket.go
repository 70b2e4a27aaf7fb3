// Package transport provides the connections the hub fans out to: full
// WebSocket sockets and read-only Server-Sent Events streams. Connections
// are owned here, not by the hub, and stay open across hub instances.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/funkyfirehose/relay/internal/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only talk back with control frames and small acks.
	maxMessageSize = 4096
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("connection closed")

// Socket is one accepted WebSocket connection.
type Socket struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	writeMu   sync.Mutex
	listeners *closeListeners
	closeOnce sync.Once
}

// Upgrader accepts WebSocket handshakes and starts each socket's read and
// ping loops.
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader creates an Upgrader. With no allowed origins any origin is
// accepted; otherwise the Origin header must match one of them.
func NewUpgrader(allowedOrigins []string) *Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(o)] = true
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[strings.ToLower(origin)]
			},
		},
	}
}

// Upgrade completes the handshake. On failure the client has already been
// sent an HTTP error.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (hub.Conn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}

	s := &Socket{
		id:          uuid.New().String(),
		conn:        conn,
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now().UTC(),
		listeners:   newCloseListeners(),
	}
	go s.readPump()
	go s.pingLoop()
	return s, nil
}

// IsUpgradeRequest reports whether r asks for a WebSocket upgrade.
func IsUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (s *Socket) ID() string             { return s.id }
func (s *Socket) Transport() string      { return "websocket" }
func (s *Socket) RemoteAddr() string     { return s.remoteAddr }
func (s *Socket) ConnectedAt() time.Time { return s.connectedAt }
func (s *Socket) Done() <-chan struct{}  { return s.listeners.done() }

func (s *Socket) OnClose(fn func()) func() { return s.listeners.add(fn) }

// Send writes one text frame. Writes are serialized; the deadline is the
// earlier of ctx's and writeWait.
func (s *Socket) Send(ctx context.Context, data []byte) error {
	select {
	case <-s.Done():
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.shutdown()
		return fmt.Errorf("write to %s: %w", s.id, err)
	}
	return nil
}

// Close sends a normal closure frame and releases the socket.
func (s *Socket) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.shutdown()
	return nil
}

func (s *Socket) shutdown() {
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.listeners.fire()
	})
}

// readPump consumes inbound frames until the peer goes away. Subscribers
// have nothing to say to the hub, so frames are discarded.
func (s *Socket) readPump() {
	defer s.shutdown()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("transport: websocket read failed",
					slog.String("conn_id", s.id),
					slog.Any("error", err))
			}
			return
		}
		// Any frame counts as liveness.
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.shutdown()
				return
			}
		case <-s.Done():
			return
		}
	}
}

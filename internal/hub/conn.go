package hub

import (
	"context"
	"net/http"
	"time"
)

// Conn is the transport-owned half of one subscriber connection. The hub
// tracks connections it did not create and never outlives them: the
// transport keeps a Conn open across hub instances until the peer leaves.
type Conn interface {
	ID() string
	Transport() string
	RemoteAddr() string
	ConnectedAt() time.Time

	// Send writes one message frame. It must be safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	// OnClose registers fn to run once the transport observes closure. If the
	// connection is already closed fn runs immediately. The returned func
	// unregisters fn.
	OnClose(fn func()) (cancel func())

	// Done is closed when the connection is closed.
	Done() <-chan struct{}

	Close() error
}

// Upgrader performs the transport handshake for an incoming request.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// Member is one registry entry: a live connection and the display name the
// hub gave it when it first connected.
type Member struct {
	Conn Conn
	Name string
}

// Registry is the host's record of which connections belong to which hub.
// It outlives any single Hub value, so a recreated hub can rebuild its
// session set from Live.
type Registry interface {
	Attach(ctx context.Context, hubName string, m Member) error
	Detach(ctx context.Context, hubName, connID string) error
	Live(ctx context.Context, hubName string) ([]Member, error)
}

package transport

import (
	"net/http"

	"github.com/funkyfirehose/relay/internal/hub"
)

// Negotiator picks the transport for a subscriber request: a WebSocket
// upgrade when asked for one, otherwise an event stream.
type Negotiator struct {
	WebSocket hub.Upgrader
	SSE       hub.Upgrader
}

func (n *Negotiator) Upgrade(w http.ResponseWriter, r *http.Request) (hub.Conn, error) {
	if IsUpgradeRequest(r) || n.SSE == nil {
		return n.WebSocket.Upgrade(w, r)
	}
	return n.SSE.Upgrade(w, r)
}

package handlers

import (
	"net/http"

	"github.com/funkyfirehose/relay/internal/hub"
	"github.com/funkyfirehose/relay/internal/models"
)

// HubHandler exposes the live hub to subscribers and operators.
type HubHandler struct {
	route hub.Route
}

// NewHubHandler creates a HubHandler for the hub reached through route.
func NewHubHandler(route hub.Route) *HubHandler {
	return &HubHandler{route: route}
}

// Subscribe opens a subscriber session. WebSocket upgrades and event
// streams both land here; the hub's upgrader tells them apart.
func (h *HubHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.route.ServeHTTP(w, r)
}

// Broadcast is the internal hub protocol endpoint.
func (h *HubHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	h.route.ServeHTTP(w, r)
}

// Status lists the sessions the hub currently tracks.
func (h *HubHandler) Status(w http.ResponseWriter, r *http.Request) {
	live, err := h.route.Hub(r.Context())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusServiceUnavailable, "hub unavailable", err)
		return
	}

	sessions := live.Sessions()
	resp := models.HubStatusResponse{
		Name:     live.Name(),
		Sessions: len(sessions),
		Members:  make([]models.SessionSummary, 0, len(sessions)),
	}
	for _, s := range sessions {
		c := s.Conn()
		resp.Members = append(resp.Members, models.SessionSummary{
			ID:          s.ID(),
			Name:        s.Name(),
			Transport:   c.Transport(),
			ConnectedAt: c.ConnectedAt(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

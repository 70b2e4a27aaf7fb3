package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/funkyfirehose/relay/internal/models"
)

const maxBroadcastBody = 1 << 20

// ServeHTTP is the hub's own request surface. POST .../broadcast takes an
// Envelope and always answers 204; every other request is a subscriber
// handshake.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/broadcast") {
		h.serveBroadcast(w, r)
		return
	}

	conn, _, err := h.Accept(w, r)
	if err != nil {
		slog.Warn("hub: connect failed",
			slog.String("hub", h.name),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Any("error", err))
		return
	}

	// Streams that are not hijacked live for as long as the request does.
	if conn.Transport() != "websocket" {
		select {
		case <-conn.Done():
		case <-r.Context().Done():
			conn.Close()
		}
	}
}

func (h *Hub) serveBroadcast(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusNoContent)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBroadcastBody))
	if err != nil {
		slog.Warn("hub: failed to read broadcast body", slog.Any("error", err))
		return
	}

	var env models.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Warn("hub: ignoring malformed broadcast", slog.Any("error", err))
		return
	}
	if env.Data == nil {
		env.Data = models.Message("null")
	}
	if _, err := h.Broadcast(r.Context(), env); err != nil {
		slog.Error("hub: broadcast failed", slog.Any("error", err))
	}
}

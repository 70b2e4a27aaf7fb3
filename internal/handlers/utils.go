package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/funkyfirehose/relay/internal/logging"
	"github.com/funkyfirehose/relay/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes {"error": message}. Used for the gateway's plain
// rejections where no cause is worth logging: 400 for unreadable bodies,
// 403 for encryption failures (already a security event), 413 for oversized
// payloads.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}

// writeErrorWithCause also logs err with a trace, e.g. 503 when the hub
// cannot be reached or 500 when fan-out fails. 401 and 403 are skipped since
// the gateway already recorded a security event for them.
func writeErrorWithCause(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	writeError(w, status, message)

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return
	}

	if err != nil {
		logging.LogErrorWithStatus(ctx, status, "error response", logging.WrapError(err, message))
	}
}

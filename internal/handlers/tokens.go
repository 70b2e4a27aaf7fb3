package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/funkyfirehose/relay/internal/models"
	"github.com/funkyfirehose/relay/internal/services"
)

const maxSubscriberNameLen = 64

// TokenHandler issues subscriber tokens. Routes using it sit behind
// middleware.BasicAuth.
type TokenHandler struct {
	authService *services.AuthService
	names       *services.NameGenerator
}

func NewTokenHandler(authService *services.AuthService, names *services.NameGenerator) *TokenHandler {
	return &TokenHandler{authService: authService, names: names}
}

// Create returns a signed token for the requested subscriber name. An empty
// body or name gets a generated one.
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	name := strings.TrimSpace(req.Subscriber)
	if name == "" {
		name = h.names.GenerateName()
	}
	if len(name) > maxSubscriberNameLen {
		writeError(w, http.StatusBadRequest, "subscriber name too long")
		return
	}

	token, expiresAt, err := h.authService.GenerateToken(name)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusCreated, models.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

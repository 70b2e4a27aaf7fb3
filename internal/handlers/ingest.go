package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/logging"
	"github.com/funkyfirehose/relay/internal/models"
)

const (
	maxIngestBody = 1 << 20 // 1 MB

	headerIV      = "encryption-iv"
	headerAuthTag = "encryption-auth-tag"
	headerTopic   = "x-topic"
)

// Headers never copied into broadcast metadata.
var redactedHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	headerIV:              true,
	headerAuthTag:         true,
}

// Dispatcher hands a message to the hub without waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, env models.Envelope) (int, error)
}

// Enricher optionally rewrites a message before broadcast.
type Enricher interface {
	Enrich(ctx context.Context, msg models.Message) (models.Message, error)
}

// IngestHandler is the producer-facing gateway. Encrypted expects an
// AES-256-GCM payload; Open accepts plain JSON.
type IngestHandler struct {
	dispatcher Dispatcher
	key        []byte
	enricher   Enricher
}

// NewIngestHandler creates an IngestHandler. key may be nil when only Open
// is mounted; enricher may be nil to skip enrichment.
func NewIngestHandler(dispatcher Dispatcher, key []byte, enricher Enricher) *IngestHandler {
	return &IngestHandler{dispatcher: dispatcher, key: key, enricher: enricher}
}

// Encrypted handles an authenticated producer submission. Credentials have
// already been checked by middleware.BasicAuth. Every decode or decrypt
// failure gets the same 403 body; the cause is only logged.
func (h *IngestHandler) Encrypted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	iv, tag := r.Header.Get(headerIV), r.Header.Get(headerAuthTag)
	if iv == "" || tag == "" {
		logging.LogSecurityEvent(ctx, logging.SecurityEventMissingEncryptionHdr, "missing encryption headers")
		writeError(w, http.StatusForbidden, "missing encryption headers")
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	env, err := crypto.DecodeEnvelope(string(body), iv, tag)
	if err == nil {
		var msg models.Message
		msg, err = env.Open(h.key)
		if err == nil {
			h.dispatch(w, r, msg)
			return
		}
	}

	logging.LogSecurityEvent(ctx, logging.SecurityEventInvalidEncryption, "invalid encryption: "+err.Error())
	writeError(w, http.StatusForbidden, "invalid encryption")
}

// Open handles an unauthenticated plain JSON submission.
func (h *IngestHandler) Open(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	msg, err := crypto.ParseMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.dispatch(w, r, msg)
}

func (h *IngestHandler) dispatch(w http.ResponseWriter, r *http.Request, msg models.Message) {
	ctx := r.Context()

	if h.enricher != nil {
		enriched, err := h.enricher.Enrich(ctx, msg)
		if err != nil {
			slog.WarnContext(ctx, "geocode enrichment failed",
				append(logging.RequestFields(ctx), slog.Any("error", err))...)
		} else {
			msg = enriched
		}
	}

	env := models.Envelope{Data: msg, Metadata: extractMetadata(r)}
	if _, err := h.dispatcher.Dispatch(ctx, env); err != nil {
		writeErrorWithCause(ctx, w, http.StatusServiceUnavailable, "hub unavailable", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// readBody reads at most maxIngestBody bytes, answering 413 or 400 itself
// when it returns false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// extractMetadata copies the request headers into a flat map with lowercased
// keys. Repeated headers are joined with ", ". The topic comes from the
// X-Topic header, falling back to the topic query parameter.
func extractMetadata(r *http.Request) map[string]string {
	meta := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		key := strings.ToLower(name)
		if redactedHeaders[key] {
			continue
		}
		meta[key] = strings.Join(values, ", ")
	}

	topic := r.Header.Get(headerTopic)
	if topic == "" {
		topic = r.URL.Query().Get(models.MetadataTopic)
	}
	if topic != "" {
		meta[models.MetadataTopic] = topic
	}
	return meta
}

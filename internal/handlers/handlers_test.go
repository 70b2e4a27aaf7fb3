package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/hub"
	"github.com/funkyfirehose/relay/internal/models"
	"github.com/funkyfirehose/relay/internal/registry"
	"github.com/funkyfirehose/relay/internal/services"
)

var testKey = bytes.Repeat([]byte{0x17}, crypto.KeySize)

type fakeDispatcher struct {
	mu   sync.Mutex
	envs []models.Envelope
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, env models.Envelope) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, d.err
	}
	d.envs = append(d.envs, env)
	return 1, nil
}

func (d *fakeDispatcher) dispatched() []models.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Envelope(nil), d.envs...)
}

type fakeEnricher struct {
	out models.Message
	err error
}

func (e *fakeEnricher) Enrich(_ context.Context, msg models.Message) (models.Message, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.out, nil
}

func encryptedRequest(t *testing.T, plaintext string) *http.Request {
	t.Helper()
	env, err := crypto.Encrypt([]byte(plaintext), testKey)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	body, iv, tag := env.Encode()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Encryption-IV", iv)
	req.Header.Set("Encryption-Auth-Tag", tag)
	req.SetBasicAuth("producer", "s3cret")
	return req
}

func TestIngestHandler_Encrypted(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewIngestHandler(d, testKey, nil)

	req := encryptedRequest(t, `{"topic":"fire","severity":5}`)
	req.Header.Set("X-Topic", "alerts")
	req.Header.Add("X-Region", "north")
	req.Header.Add("X-Region", "east")
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()

	h.Encrypted(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want 204; body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", rec.Body.String())
	}

	envs := d.dispatched()
	if len(envs) != 1 {
		t.Fatalf("dispatched %d envelopes, want 1", len(envs))
	}
	if got := string(envs[0].Data); got != `{"topic":"fire","severity":5}` {
		t.Errorf("Data = %s", got)
	}

	meta := envs[0].Metadata
	if meta["topic"] != "alerts" {
		t.Errorf("topic = %q, want alerts", meta["topic"])
	}
	if meta["x-region"] != "north, east" {
		t.Errorf("x-region = %q, want joined values", meta["x-region"])
	}
	for _, k := range []string{"authorization", "cookie", "encryption-iv", "encryption-auth-tag"} {
		if _, ok := meta[k]; ok {
			t.Errorf("metadata should not carry %s", k)
		}
	}
}

func TestIngestHandler_EncryptedRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *http.Request)
		wantMsg string
	}{
		{
			name:    "missing auth tag",
			mutate:  func(r *http.Request) { r.Header.Del("Encryption-Auth-Tag") },
			wantMsg: "missing encryption headers",
		},
		{
			name:    "missing iv",
			mutate:  func(r *http.Request) { r.Header.Del("Encryption-IV") },
			wantMsg: "missing encryption headers",
		},
		{
			name: "corrupted tag",
			mutate: func(r *http.Request) {
				tag := []byte(r.Header.Get("Encryption-Auth-Tag"))
				if tag[0] == 'A' {
					tag[0] = 'B'
				} else {
					tag[0] = 'A'
				}
				r.Header.Set("Encryption-Auth-Tag", string(tag))
			},
			wantMsg: "invalid encryption",
		},
		{
			name:    "short iv",
			mutate:  func(r *http.Request) { r.Header.Set("Encryption-IV", "AAAA") },
			wantMsg: "invalid encryption",
		},
		{
			name:    "not base64",
			mutate:  func(r *http.Request) { r.Header.Set("Encryption-IV", "!!!") },
			wantMsg: "invalid encryption",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			h := NewIngestHandler(d, testKey, nil)
			req := encryptedRequest(t, `{"topic":"fire"}`)
			tt.mutate(req)
			rec := httptest.NewRecorder()

			h.Encrypted(rec, req)

			if rec.Code != http.StatusForbidden {
				t.Fatalf("Status = %d, want 403", rec.Code)
			}
			var resp models.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Error != tt.wantMsg {
				t.Errorf("Error = %q, want %q", resp.Error, tt.wantMsg)
			}
			if n := len(d.dispatched()); n != 0 {
				t.Errorf("dispatched %d envelopes, want 0", n)
			}
		})
	}
}

func TestIngestHandler_WrongKeyLooksLikeAnyOtherFailure(t *testing.T) {
	other := bytes.Repeat([]byte{0x99}, crypto.KeySize)
	h := NewIngestHandler(&fakeDispatcher{}, other, nil)

	rec := httptest.NewRecorder()
	h.Encrypted(rec, encryptedRequest(t, `{"a":1}`))

	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"invalid encryption"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestIngestHandler_NonJSONPlaintext(t *testing.T) {
	h := NewIngestHandler(&fakeDispatcher{}, testKey, nil)

	rec := httptest.NewRecorder()
	h.Encrypted(rec, encryptedRequest(t, `not json`))

	if rec.Code != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", rec.Code)
	}
}

func TestIngestHandler_TopicFromQuery(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewIngestHandler(d, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/?topic=quakes", strings.NewReader(`[1,2]`))
	h.Open(httptest.NewRecorder(), req)

	envs := d.dispatched()
	if len(envs) != 1 || envs[0].Metadata["topic"] != "quakes" {
		t.Errorf("dispatched %+v", envs)
	}
}

func TestIngestHandler_Open(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"object", `{"topic":"fire"}`, http.StatusNoContent},
		{"scalar", `42`, http.StatusNoContent},
		{"invalid json", `{"topic":`, http.StatusBadRequest},
		{"empty", ``, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			h := NewIngestHandler(d, nil, nil)
			rec := httptest.NewRecorder()

			h.Open(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
			wantDispatched := 0
			if tt.wantStatus == http.StatusNoContent {
				wantDispatched = 1
			}
			if n := len(d.dispatched()); n != wantDispatched {
				t.Errorf("dispatched %d, want %d", n, wantDispatched)
			}
		})
	}
}

func TestIngestHandler_BodyTooLarge(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewIngestHandler(d, nil, nil)

	body := `"` + strings.Repeat("a", maxIngestBody) + `"`
	rec := httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Status = %d, want 413", rec.Code)
	}
}

func TestIngestHandler_Enrichment(t *testing.T) {
	t.Run("enriched message is dispatched", func(t *testing.T) {
		d := &fakeDispatcher{}
		e := &fakeEnricher{out: models.Message(`{"address":"Paris","location":{"lat":1,"lon":2}}`)}
		h := NewIngestHandler(d, nil, e)

		h.Open(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"address":"Paris"}`)))

		if got := string(d.dispatched()[0].Data); got != string(e.out) {
			t.Errorf("Data = %s", got)
		}
	})

	t.Run("failure keeps original", func(t *testing.T) {
		d := &fakeDispatcher{}
		h := NewIngestHandler(d, nil, &fakeEnricher{err: errors.New("upstream down")})
		rec := httptest.NewRecorder()

		h.Open(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"address":"Paris"}`)))

		if rec.Code != http.StatusNoContent {
			t.Fatalf("Status = %d, want 204", rec.Code)
		}
		if got := string(d.dispatched()[0].Data); got != `{"address":"Paris"}` {
			t.Errorf("Data = %s", got)
		}
	})
}

func TestIngestHandler_DispatchFailure(t *testing.T) {
	h := NewIngestHandler(&fakeDispatcher{err: errors.New("initialize failed")}, nil, nil)
	rec := httptest.NewRecorder()

	h.Open(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", rec.Code)
	}
}

func TestTokenHandler_Create(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)
	h := NewTokenHandler(auth, services.NewNameGenerator())

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		wantName       string
	}{
		{"named subscriber", `{"subscriber":"ops-wall"}`, http.StatusCreated, "ops-wall"},
		{"empty body gets generated name", ``, http.StatusCreated, ""},
		{"invalid json", `nope`, http.StatusBadRequest, ""},
		{"name too long", `{"subscriber":"` + strings.Repeat("x", 65) + `"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tokens", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.Create(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("Status = %d, want %d", rec.Code, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusCreated {
				return
			}

			var resp models.TokenResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			claims, err := auth.ValidateToken(resp.Token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if tt.wantName != "" && claims.Subscriber != tt.wantName {
				t.Errorf("Subscriber = %q, want %q", claims.Subscriber, tt.wantName)
			}
			if claims.Subscriber == "" {
				t.Error("Subscriber should never be empty")
			}
		})
	}
}

func TestHubHandler_Status(t *testing.T) {
	dir := hub.NewDirectory(func(name string) *hub.Hub {
		return hub.New(hub.Config{Name: name, Registry: registry.NewMemory()})
	})
	defer dir.Close()
	h := NewHubHandler(dir.Route("funky-firehose"))

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/hub", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	var resp models.HubStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Name != "funky-firehose" || resp.Sessions != 0 || resp.Members == nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

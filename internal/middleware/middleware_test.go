package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/services"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestBasicAuth(t *testing.T) {
	creds := crypto.Credentials{Username: "producer", Password: "s3cret"}

	tests := []struct {
		name       string
		target     string
		user, pass string
		useHeader  bool
		creds      crypto.Credentials
		wantStatus int
	}{
		{"valid header", "/", "producer", "s3cret", true, creds, http.StatusNoContent},
		{"valid query", "/?username=producer&password=s3cret", "", "", false, creds, http.StatusNoContent},
		{"wrong password", "/", "admin", "wrong", true, creds, http.StatusUnauthorized},
		{"wrong query", "/?username=producer&password=nope", "", "", false, creds, http.StatusUnauthorized},
		{"wrong header, valid query", "/?username=producer&password=s3cret", "producer", "wrong", true, creds, http.StatusNoContent},
		{"valid header, wrong query", "/?username=producer&password=nope", "producer", "s3cret", true, creds, http.StatusNoContent},
		{"wrong header and query", "/?username=producer&password=nope", "producer", "wrong", true, creds, http.StatusUnauthorized},
		{"missing", "/", "", "", false, creds, http.StatusUnauthorized},
		{"unconfigured with query", "/?username=producer&password=s3cret", "", "", false, crypto.Credentials{}, http.StatusUnauthorized},
		{"unconfigured fails closed", "/", "", "", true, crypto.Credentials{}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var principal string
			h := BasicAuth(tt.creds)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				principal = GetPrincipal(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if tt.useHeader {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if body := rec.Body.String(); body != `{"error":"unauthorized"}` {
					t.Errorf("Body = %s", body)
				}
				return
			}
			if principal != "producer" {
				t.Errorf("principal = %q, want producer", principal)
			}
		})
	}
}

func TestSubscriberToken(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour)
	valid, _, err := auth.GenerateToken("dashboard")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		required   bool
		token      string
		wantStatus int
		wantClaims bool
	}{
		{"optional and absent", false, "", http.StatusNoContent, false},
		{"required and absent", true, "", http.StatusUnauthorized, false},
		{"garbage token", false, "garbage", http.StatusUnauthorized, false},
		{"valid token", true, valid, http.StatusNoContent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var claims *services.Claims
			h := SubscriberToken(auth, tt.required)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims = GetClaims(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			target := "/"
			if tt.token != "" {
				target += "?token=" + tt.token
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if (claims != nil) != tt.wantClaims {
				t.Errorf("claims = %v, wantClaims %v", claims, tt.wantClaims)
			}
			if claims != nil && claims.Subscriber != "dashboard" {
				t.Errorf("Subscriber = %q", claims.Subscriber)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	defer rl.Stop()
	h := rl.Middleware(okHandler)

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1:1234"); code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, code)
		}
	}
	if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", code)
	}
	if code := send("10.0.0.2:1234"); code != http.StatusNoContent {
		t.Errorf("other client status = %d, want 204", code)
	}
}

func TestRealIPMiddleware(t *testing.T) {
	m := NewRealIPMiddleware([]string{"10.0.0.0/8", "192.168.1.1", "not-an-ip"})

	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"untrusted ignores xff", "203.0.113.5:443", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.5"},
		{"untrusted drops forged real ip", "203.0.113.5:443", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5"},
		{"trusted cidr uses xff", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.1.2.3"}, "1.2.3.4"},
		{"trusted ip prefers cloudflare", "192.168.1.1:80", map[string]string{"CF-Connecting-IP": "5.6.7.8", "X-Forwarded-For": "1.2.3.4"}, "5.6.7.8"},
		{"trusted without headers", "10.1.2.3:80", nil, "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("X-Real-IP")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("X-Real-IP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	h := CORSMiddleware([]string{"https://dash.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

// Package middleware provides HTTP middleware for authentication,
// CORS handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"net/http"

	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/logging"
	"github.com/funkyfirehose/relay/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing subscriber JWT claims.
	ClaimsKey contextKey = "claims"
	// PrincipalKey is the context key for the authenticated producer username.
	PrincipalKey contextKey = "principal"
)

const unauthorizedBody = `{"error":"unauthorized"}`

// BasicAuth checks producer credentials from the Authorization header and
// the username and password query parameters. Either pair may match.
// Requests fail with 401 whenever creds is not configured.
func BasicAuth(creds crypto.Credentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, matched, presented := matchCredentials(r, creds)
			if !presented {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing credentials")
				unauthorized(w)
				return
			}

			if !matched {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadCredentials, "invalid credentials")
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, username)
			attrs := logging.GetRequestAttrs(ctx)
			mode := ""
			if attrs != nil {
				mode = attrs.IngestMode
			}
			ctx = logging.UpdateRequestAttrs(ctx, username, mode)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchCredentials tries the header pair first, then the query pair.
func matchCredentials(r *http.Request, creds crypto.Credentials) (username string, matched, presented bool) {
	if user, pass, ok := r.BasicAuth(); ok {
		presented = true
		if creds.Match(user, pass) {
			return user, true, true
		}
	}

	q := r.URL.Query()
	user, pass := q.Get("username"), q.Get("password")
	if user == "" && pass == "" {
		return "", false, presented
	}
	if creds.Match(user, pass) {
		return user, true, true
	}
	return "", false, true
}

// SubscriberToken validates the ?token= query parameter on subscriber
// endpoints. Browsers cannot set headers on a WebSocket handshake, so the
// token travels in the URL. When required is false, requests without a
// token pass through and only malformed tokens are rejected.
func SubscriberToken(authService *services.AuthService, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				if required {
					logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing subscriber token")
					unauthorized(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := authService.ValidateToken(token)
			if err != nil {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidToken, "invalid or expired subscriber token")
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = logging.UpdateRequestAttrs(ctx, claims.Subscriber, "")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the subscriber claims from the request context.
// Returns nil if the request carried no token.
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}

// GetPrincipal returns the producer username set by BasicAuth.
func GetPrincipal(ctx context.Context) string {
	p, _ := ctx.Value(PrincipalKey).(string)
	return p
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Basic realm="firehose"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(unauthorizedBody))
}

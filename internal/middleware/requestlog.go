package middleware

import (
	"net/http"

	"github.com/funkyfirehose/relay/internal/logging"
)

// RequestContextMiddleware adds request attributes to context early in the middleware chain.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := &logging.RequestAttrs{
			Method: r.Method,
			Path:   r.URL.Path,
			IP:     logging.ExtractClientIP(r),
		}
		ctx := logging.WithRequestAttrs(r.Context(), attrs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IngestModeMiddleware tags the request attributes with the active ingestion
// mode so security events and errors on the gateway carry it.
func IngestModeMiddleware(mode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := ""
			if attrs := logging.GetRequestAttrs(r.Context()); attrs != nil {
				principal = attrs.Principal
			}
			ctx := logging.UpdateRequestAttrs(r.Context(), principal, mode)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Package router assembles the relay's HTTP surface.
package router

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/funkyfirehose/relay/internal/config"
	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/handlers"
	"github.com/funkyfirehose/relay/internal/hub"
	"github.com/funkyfirehose/relay/internal/middleware"
	"github.com/funkyfirehose/relay/internal/services"
	"github.com/funkyfirehose/relay/internal/transport"
)

// Deps are the long-lived components the routes are built from.
type Deps struct {
	Config      *config.Config
	Route       hub.Route
	Key         []byte
	Credentials crypto.Credentials
	Auth        *services.AuthService
	Names       *services.NameGenerator
	Enricher    handlers.Enricher // nil when geocoding is disabled
	RateLimiter *middleware.RateLimiter
}

func New(d Deps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()

	// Handlers
	hubHandler := handlers.NewHubHandler(d.Route)
	tokenHandler := handlers.NewTokenHandler(d.Auth, d.Names)
	ingestHandler := handlers.NewIngestHandler(d.Route, d.Key, d.Enricher)

	basicAuth := middleware.BasicAuth(d.Credentials)
	subscriberAuth := middleware.SubscriberToken(d.Auth, cfg.SubscriberTokensRequired)

	subscribe := subscriberAuth(http.HandlerFunc(hubHandler.Subscribe))

	// Global middleware
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.SkipHealth(chimiddleware.Logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.SentryDSN != "" {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middleware.RequestContextMiddleware)
	r.Use(upgradeTo(subscribe))

	// Exactly one ingestion variant is mounted.
	var ingest http.Handler
	switch cfg.IngestMode {
	case config.IngestModeOpen:
		ingest = chi.Chain(
			middleware.IngestModeMiddleware(config.IngestModeOpen),
			d.RateLimiter.Middleware,
		).HandlerFunc(ingestHandler.Open)
	default:
		ingest = chi.Chain(
			middleware.IngestModeMiddleware(config.IngestModeEncrypted),
			d.RateLimiter.Middleware,
			basicAuth,
		).HandlerFunc(ingestHandler.Encrypted)
	}

	static := staticHandler(cfg.StaticDir)

	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost {
			ingest.ServeHTTP(w, req)
			return
		}
		static.ServeHTTP(w, req)
	})
	r.Get("/events", subscribe.ServeHTTP)
	r.With(basicAuth).Post("/internal/broadcast", hubHandler.Broadcast)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Group(func(r chi.Router) {
			r.Use(basicAuth)
			r.Get("/hub", hubHandler.Status)
			r.Post("/tokens", tokenHandler.Create)
		})
	})

	r.NotFound(static.ServeHTTP)

	return r
}

// upgradeTo hands WebSocket upgrades on any path to the hub before routing.
func upgradeTo(subscribe http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if transport.IsUpgradeRequest(r) {
				subscribe.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func staticHandler(dir string) http.Handler {
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
		})
	}
	return http.FileServer(http.Dir(dir))
}

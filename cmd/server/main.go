package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/funkyfirehose/relay/internal/config"
	"github.com/funkyfirehose/relay/internal/crypto"
	"github.com/funkyfirehose/relay/internal/database"
	"github.com/funkyfirehose/relay/internal/geocode"
	"github.com/funkyfirehose/relay/internal/handlers"
	"github.com/funkyfirehose/relay/internal/hub"
	"github.com/funkyfirehose/relay/internal/logging"
	"github.com/funkyfirehose/relay/internal/middleware"
	"github.com/funkyfirehose/relay/internal/registry"
	"github.com/funkyfirehose/relay/internal/router"
	sentryscrub "github.com/funkyfirehose/relay/internal/sentry"
	"github.com/funkyfirehose/relay/internal/services"
	"github.com/funkyfirehose/relay/internal/transport"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	cfg := config.Load()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:                   cfg.SentryDSN,
			Environment:           cfg.SentryEnvironment,
			BeforeSend:            sentryscrub.ScrubEvent,
			BeforeSendTransaction: sentryscrub.ScrubTransaction,
		}); err != nil {
			slog.Error("failed to initialize sentry", slog.Any("error", err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	// The encrypted gateway cannot work without a key; refuse to start.
	var key []byte
	if cfg.IngestMode != config.IngestModeOpen {
		var err error
		key, err = crypto.ParseKey(cfg.PreSharedKey)
		if err != nil {
			slog.Error("invalid PRE_SHARED_KEY", slog.Any("error", err))
			os.Exit(1)
		}
	}

	creds := crypto.Credentials{Username: cfg.DemoUsername, Password: cfg.DemoPassword}
	if !creds.Configured() {
		slog.Warn("DEMO_USERNAME/DEMO_PASSWORD not set; authenticated routes will reject every request")
	}

	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	reg := registry.NewDurable(sqlDB, registry.NewMemory())
	names := services.NewNameGenerator()
	upgrader := &transport.Negotiator{
		WebSocket: transport.NewUpgrader(cfg.CORSAllowedOrigins),
		SSE:       &transport.SSEUpgrader{},
	}

	dir := hub.NewDirectory(func(name string) *hub.Hub {
		return hub.New(hub.Config{
			Name:     name,
			Registry: reg,
			Upgrader: upgrader,
			NameFunc: names.GenerateName,
		})
	})
	defer dir.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := dir.Get(ctx, cfg.HubName); err != nil {
		slog.Error("failed to initialize hub", slog.String("hub", cfg.HubName), slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.HubIdleTimeout > 0 {
		go dir.RunJanitor(ctx, cfg.HubIdleTimeout/2, cfg.HubIdleTimeout)
	}

	var enricher handlers.Enricher
	if cfg.GeocodeURL != "" {
		enricher = geocode.New(sqlDB, cfg.GeocodeURL)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	defer rateLimiter.Stop()

	r := router.New(router.Deps{
		Config:      cfg,
		Route:       dir.Route(cfg.HubName),
		Key:         key,
		Credentials: creds,
		Auth:        services.NewAuthService(cfg.JWTSecret, cfg.SubscriberTokenDuration),
		Names:       names,
		Enricher:    enricher,
		RateLimiter: rateLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", slog.Any("error", err))
		}
	}()

	slog.Info("starting server",
		slog.String("addr", addr),
		slog.String("hub", cfg.HubName),
		slog.String("ingest_mode", cfg.IngestMode))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development, except the
// producer credentials and pre-shared key which stay empty unless set.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Ingestion modes. Exactly one is mounted by the router.
const (
	IngestModeEncrypted = "encrypted"
	IngestModeOpen      = "open"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port                     string
	DatabasePath             string
	HubName                  string
	HubIdleTimeout           time.Duration
	IngestMode               string
	DemoUsername             string
	DemoPassword             string
	PreSharedKey             string
	JWTSecret                string
	SubscriberTokenDuration  time.Duration
	SubscriberTokensRequired bool
	RateLimitPerMinute       int
	CORSAllowedOrigins       []string
	TrustedProxies           []string
	GeocodeURL               string
	StaticDir                string
	SentryDSN                string
	SentryEnvironment        string
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	return &Config{
		Port:                     getEnv("PORT", "8080"),
		DatabasePath:             getEnv("DATABASE_PATH", "./firehose.db"),
		HubName:                  getEnv("HUB_NAME", "funky-firehose"),
		HubIdleTimeout:           getDurationEnv("HUB_IDLE_TIMEOUT", 0),
		IngestMode:               strings.ToLower(getEnv("INGEST_MODE", IngestModeEncrypted)),
		DemoUsername:             getEnv("DEMO_USERNAME", ""),
		DemoPassword:             getEnv("DEMO_PASSWORD", ""),
		PreSharedKey:             getEnv("PRE_SHARED_KEY", ""),
		JWTSecret:                getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		SubscriberTokenDuration:  getDurationEnv("SUBSCRIBER_TOKEN_DURATION", 12*time.Hour),
		SubscriberTokensRequired: getBoolEnv("SUBSCRIBER_TOKENS_REQUIRED", false),
		RateLimitPerMinute:       getIntEnv("RATE_LIMIT_PER_MINUTE", 600),
		CORSAllowedOrigins:       getStringSliceEnv("CORS_ALLOWED_ORIGINS"),
		TrustedProxies:           getStringSliceEnv("TRUSTED_PROXIES"),
		GeocodeURL:               getEnv("GEOCODE_URL", ""),
		StaticDir:                getEnv("STATIC_DIR", ""),
		SentryDSN:                getEnv("SENTRY_DSN", ""),
		SentryEnvironment:        getEnv("SENTRY_ENVIRONMENT", "production"),
	}
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

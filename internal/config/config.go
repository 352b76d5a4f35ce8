// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; empty until DB is wired.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// IdentityURL is the identity provider's base URL (e.g. https://mdproj.identity.example).
	IdentityURL string `mapstructure:"IDENTITY_URL"`
	// IdentityAnonKey is the public API key attached to every identity call.
	IdentityAnonKey string `mapstructure:"IDENTITY_ANON_KEY"`
	// IdentityServiceKey is the elevated key for admin operations (user deletion). Server-only.
	IdentityServiceKey string `mapstructure:"IDENTITY_SERVICE_KEY"`
	// IdentityProjectRef keys the persisted session blob (e.g. "mdproj").
	IdentityProjectRef string `mapstructure:"IDENTITY_PROJECT_REF"`

	// BillingServiceAccount is the JSON service-account credential (inline or path to file) for the billing authority. Server-only.
	BillingServiceAccount string `mapstructure:"BILLING_SERVICE_ACCOUNT"`
	// BillingPackageName is the app package whose purchases are verified (e.g. app.matchdeck.coach).
	BillingPackageName string `mapstructure:"BILLING_PACKAGE_NAME"`
	// MockBilling accepts test-prefixed purchase tokens without calling the billing authority. Must not be true when Env is production.
	MockBilling bool `mapstructure:"MOCK_BILLING"`

	// AllowedOrigins is a comma-separated CORS allow-list; the first entry is the primary production origin.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	// PreviewOriginPattern is a regexp matching preview-deployment origins; empty disables previews.
	PreviewOriginPattern string `mapstructure:"PREVIEW_ORIGIN_PATTERN"`

	// RateLimitPerMinute caps verification requests per source IP per minute.
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	// RedisAddr enables the shared Redis rate limiter; empty falls back to the in-process fixed window.
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// OTLPEndpoint is the OTLP/gRPC collector address (e.g. localhost:4317); empty disables telemetry export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("IDENTITY_URL", "")
	v.SetDefault("IDENTITY_ANON_KEY", "")
	v.SetDefault("IDENTITY_SERVICE_KEY", "")
	v.SetDefault("IDENTITY_PROJECT_REF", "mdproj")
	v.SetDefault("BILLING_SERVICE_ACCOUNT", "")
	v.SetDefault("BILLING_PACKAGE_NAME", "app.matchdeck.coach")
	v.SetDefault("MOCK_BILLING", false)
	v.SetDefault("ALLOWED_ORIGINS", "https://matchdeck.example")
	v.SetDefault("PREVIEW_ORIGIN_PATTERN", `^https://[a-z0-9-]+\.matchdeck\.example$`)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.MockBilling && cfg.Env == "production" {
		return nil, errors.New("config: MOCK_BILLING must not be true when APP_ENV=production")
	}

	if cfg.RateLimitPerMinute <= 0 {
		return nil, errors.New("config: RATE_LIMIT_PER_MINUTE must be positive")
	}

	return &cfg, nil
}

// AllowedOriginsList returns CORS origins from the comma-separated config.
// The first entry is the primary production origin.
func (c *Config) AllowedOriginsList() []string {
	if c == nil || c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

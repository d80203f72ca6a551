// Package config loads and validates application configuration from the
// environment and a secrets mount, and supports hot reload of rotating
// secrets such as the token signing key.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	APIBaseURL string // Base URL for the API (e.g., https://api.testflow.dev)

	DatabaseURL string

	AllowedOrigins []string

	// Token issuance
	TokenIssuer      string
	TokenSigningKey  string
	SessionTTL       time.Duration
	ImpersonationTTL time.Duration

	// Device credentials
	DeviceCredentialTTL  time.Duration
	MaxActiveCredentials int

	// Audit retention
	AuditPurgeInterval time.Duration
}

// Load loads configuration from environment variables and the secrets mount.
// Priority: 1) Environment variables, 2) Secret files under SECRETS_DIR.
// Waits up to 120 seconds for required secrets to appear.
func Load() (*Config, *Loader, error) {
	loader := NewLoader()

	databasePassword, err := loader.LoadEnv("DATABASE_PASSWORD", true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load DATABASE_PASSWORD: %w", err)
	}

	signingKey, err := loader.LoadEnv("TOKEN_SIGNING_KEY", true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load TOKEN_SIGNING_KEY: %w", err)
	}

	baseURL := loader.LoadEnvWithDefault("API_BASE_URL", "https://api.testflow.dev")
	databaseHost := loader.LoadEnvWithDefault("DATABASE_HOST", "mysql:3306")
	databaseName := loader.LoadEnvWithDefault("DATABASE_NAME", "testflow")
	databaseUser := loader.LoadEnvWithDefault("DATABASE_USER", "testflow")

	cfg := &Config{
		Port:         loader.LoadEnvWithDefault("PORT", "8080"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,

		APIBaseURL: baseURL,

		DatabaseURL: fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true",
			databaseUser, databasePassword, databaseHost, databaseName),

		AllowedOrigins: parseAllowedOrigins(loader.LoadEnvWithDefault("ALLOWED_ORIGINS", baseURL)),

		TokenIssuer:      loader.LoadEnvWithDefault("TOKEN_ISSUER", baseURL),
		TokenSigningKey:  signingKey,
		SessionTTL:       parseDuration(loader.LoadEnvWithDefault("SESSION_TTL", "1h"), time.Hour),
		ImpersonationTTL: parseDuration(loader.LoadEnvWithDefault("IMPERSONATION_TTL", "15m"), 15*time.Minute),

		DeviceCredentialTTL:  parseDuration(loader.LoadEnvWithDefault("DEVICE_CREDENTIAL_TTL", "2160h"), 90*24*time.Hour),
		MaxActiveCredentials: parseInt(loader.LoadEnvWithDefault("MAX_ACTIVE_CREDENTIALS", "5"), 5),

		AuditPurgeInterval: parseDuration(loader.LoadEnvWithDefault("AUDIT_PURGE_INTERVAL", "1h"), time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, loader, nil
}

// Validate checks that required configuration is present.
func (cfg *Config) Validate() error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TokenSigningKey == "" {
		return fmt.Errorf("TOKEN_SIGNING_KEY is required")
	}
	if len(cfg.TokenSigningKey) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.ImpersonationTTL <= 0 || cfg.ImpersonationTTL > cfg.SessionTTL {
		return fmt.Errorf("IMPERSONATION_TTL must be positive and no longer than SESSION_TTL")
	}
	if cfg.MaxActiveCredentials <= 0 {
		return fmt.Errorf("MAX_ACTIVE_CREDENTIALS must be positive")
	}
	return nil
}

// parseDuration parses a duration string or returns the fallback.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseInt parses an integer string or returns the fallback.
func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// parseAllowedOrigins parses ALLOWED_ORIGINS as a comma-separated list
// (e.g., "https://api.testflow.dev,https://dash.testflow.dev").
func parseAllowedOrigins(originsEnv string) []string {
	if originsEnv != "" {
		origins := strings.Split(originsEnv, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return origins
	}

	return []string{
		"https://api.testflow.dev",
		"https://dash.testflow.dev",
		"http://localhost:8080",
	}
}

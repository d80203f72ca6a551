package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// SecretsDir is the default mount path for secret files.
	SecretsDir = "/etc/testflow/secrets"
	// DefaultTimeout is the default timeout for waiting for secrets.
	DefaultTimeout = 120 * time.Second
	// PollInterval is how often to check for secret files.
	PollInterval = 2 * time.Second
)

// timeSource is an interface for getting current time and creating timers
// This allows us to inject fake time in tests
type timeSource interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// realTime implements timeSource using the real time package
type realTime struct{}

func (realTime) Now() time.Time                         { return time.Now() }
func (realTime) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Loader loads configuration values from the environment or a secrets mount.
type Loader struct {
	secretsDir string
	timeout    time.Duration
	timeSource timeSource
}

// NewLoader creates a new secrets loader.
func NewLoader() *Loader {
	secretsDir := os.Getenv("SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = SecretsDir
	}

	return &Loader{
		secretsDir: secretsDir,
		timeout:    DefaultTimeout,
		timeSource: realTime{},
	}
}

// LoadEnv loads a value from the environment or the secrets mount.
// Priority: 1) Current environment, 2) Secret file named after the key.
// If required=true and not found, waits up to timeout for the secret to appear.
func (l *Loader) LoadEnv(key string, required bool) (string, error) {
	if value := os.Getenv(key); value != "" {
		slog.Debug("Using environment variable", "key", key)
		return value, nil
	}

	secretPath := filepath.Join(l.secretsDir, key)
	if !required {
		if value, err := l.readSecretFile(secretPath); err == nil && value != "" {
			slog.Debug("Loaded optional variable from secrets mount", "key", key)
			return value, nil
		}
		slog.Debug("Optional variable not found", "key", key)
		return "", nil
	}

	slog.Info("Waiting for required variable", "key", key, "timeout", l.timeout)
	return l.waitForSecret(key, secretPath)
}

// LoadEnvWithDefault loads an optional value, falling back to a default.
func (l *Loader) LoadEnvWithDefault(key, defaultValue string) string {
	value, _ := l.LoadEnv(key, false)
	if value == "" {
		return defaultValue
	}
	return value
}

// readSecretFile reads a secret from the filesystem.
func (l *Loader) readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	// Secret writers commonly leave trailing newlines
	return strings.TrimSpace(string(data)), nil
}

// waitForSecret waits for a secret file to appear, up to the timeout.
func (l *Loader) waitForSecret(key, path string) (string, error) {
	deadline := l.timeSource.Now().Add(l.timeout)

	for {
		value, err := l.readSecretFile(path)
		if err == nil && value != "" {
			slog.Info("Loaded required variable from secrets mount", "key", key)
			return value, nil
		}

		if l.timeSource.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for required variable %s after %s", key, l.timeout)
		}

		<-l.timeSource.After(PollInterval)
	}
}

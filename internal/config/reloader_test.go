package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReloader(t *testing.T, secretsDir string, cfg *Config) *Reloader {
	t.Helper()
	loader := &Loader{secretsDir: secretsDir, timeout: time.Second, timeSource: realTime{}}
	r, err := NewReloader(cfg, loader)
	require.NoError(t, err)
	return r
}

func TestReloader_SigningKeyRotation(t *testing.T) {
	secretsDir := t.TempDir()
	keyPath := filepath.Join(secretsDir, "TOKEN_SIGNING_KEY")
	require.NoError(t, os.WriteFile(keyPath, []byte(testSigningKey), 0o600))

	cfg := &Config{
		DatabaseURL:          "user:pw@tcp(mysql:3306)/testflow",
		TokenSigningKey:      testSigningKey,
		SessionTTL:           time.Hour,
		ImpersonationTTL:     15 * time.Minute,
		MaxActiveCredentials: 5,
	}
	r := newTestReloader(t, secretsDir, cfg)

	rotated := make(chan string, 1)
	r.OnSigningKeyChange(func(newKey string) { rotated <- newKey })

	newKey := "fedcba9876543210fedcba9876543210"
	require.NoError(t, os.WriteFile(keyPath, []byte(newKey+"\n"), 0o600))
	require.NoError(t, r.reload())

	select {
	case got := <-rotated:
		assert.Equal(t, newKey, got)
	default:
		t.Fatal("signing key callback was not invoked")
	}
	assert.Equal(t, newKey, r.GetConfig().TokenSigningKey)
}

func TestReloader_UnchangedKeyNoCallback(t *testing.T) {
	secretsDir := t.TempDir()
	keyPath := filepath.Join(secretsDir, "TOKEN_SIGNING_KEY")
	require.NoError(t, os.WriteFile(keyPath, []byte(testSigningKey), 0o600))

	cfg := &Config{
		DatabaseURL:          "user:pw@tcp(mysql:3306)/testflow",
		TokenSigningKey:      testSigningKey,
		SessionTTL:           time.Hour,
		ImpersonationTTL:     15 * time.Minute,
		MaxActiveCredentials: 5,
	}
	r := newTestReloader(t, secretsDir, cfg)

	var called bool
	r.OnSigningKeyChange(func(string) { called = true })

	require.NoError(t, r.reload())
	assert.False(t, called)
}

func TestReloader_RejectsInvalidRotatedKey(t *testing.T) {
	secretsDir := t.TempDir()
	keyPath := filepath.Join(secretsDir, "TOKEN_SIGNING_KEY")
	require.NoError(t, os.WriteFile(keyPath, []byte(testSigningKey), 0o600))

	cfg := &Config{
		DatabaseURL:          "user:pw@tcp(mysql:3306)/testflow",
		TokenSigningKey:      testSigningKey,
		SessionTTL:           time.Hour,
		ImpersonationTTL:     15 * time.Minute,
		MaxActiveCredentials: 5,
	}
	r := newTestReloader(t, secretsDir, cfg)

	require.NoError(t, os.WriteFile(keyPath, []byte("short"), 0o600))
	assert.Error(t, r.reload())
	// The old key stays in effect.
	assert.Equal(t, testSigningKey, r.GetConfig().TokenSigningKey)
}

func TestReloader_WatchDetectsWrite(t *testing.T) {
	secretsDir := t.TempDir()
	keyPath := filepath.Join(secretsDir, "TOKEN_SIGNING_KEY")
	require.NoError(t, os.WriteFile(keyPath, []byte(testSigningKey), 0o600))

	cfg := &Config{
		DatabaseURL:          "user:pw@tcp(mysql:3306)/testflow",
		TokenSigningKey:      testSigningKey,
		SessionTTL:           time.Hour,
		ImpersonationTTL:     15 * time.Minute,
		MaxActiveCredentials: 5,
	}
	r := newTestReloader(t, secretsDir, cfg)

	rotated := make(chan string, 1)
	r.OnSigningKeyChange(func(newKey string) { rotated <- newKey })

	require.NoError(t, r.Start(t.Context()))
	defer func() { _ = r.Stop() }()

	newKey := "fedcba9876543210fedcba9876543210"
	require.NoError(t, os.WriteFile(keyPath, []byte(newKey), 0o600))

	select {
	case got := <-rotated:
		assert.Equal(t, newKey, got)
	case <-time.After(3 * time.Second):
		t.Fatal("rotation was not detected")
	}
}

package database

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxOpenConns != 25 {
		t.Errorf("expected MaxOpenConns 25, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 25 {
		t.Errorf("expected MaxIdleConns 25, got %d", cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("expected ConnMaxLifetime 5m, got %s", cfg.ConnMaxLifetime)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Errorf("expected PingTimeout 5s, got %s", cfg.PingTimeout)
	}
}

func TestNewPool_InvalidConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingTimeout = 100 * time.Millisecond

	_, err := NewPool("not-a-dsn", cfg)
	if err == nil {
		t.Error("expected error for invalid connection string")
	}
}

func TestNewPool_NilConfigUsesDefaults(t *testing.T) {
	// Unreachable host; the pool should fail on ping using default config.
	_, err := NewPool("user:pw@tcp(127.0.0.1:1)/testflow?timeout=100ms", nil)
	if err == nil {
		t.Error("expected error for unreachable database")
	}
}

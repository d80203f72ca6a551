package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SigningKeyCallback is called when the token signing key changes.
type SigningKeyCallback func(newKey string)

// Reloader watches the secrets mount for changes and reloads the
// configuration in memory, notifying subscribers when the token signing
// key rotates.
type Reloader struct {
	config              atomic.Pointer[Config]
	loader              *Loader
	watcher             *fsnotify.Watcher
	stopCh              chan struct{}
	signingKeyCallbacks []SigningKeyCallback
}

// NewReloader creates a new config reloader.
func NewReloader(initialConfig *Config, loader *Loader) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		loader:              loader,
		watcher:             watcher,
		stopCh:              make(chan struct{}),
		signingKeyCallbacks: make([]SigningKeyCallback, 0),
	}
	r.config.Store(initialConfig)

	return r, nil
}

// GetConfig returns the current configuration atomically.
func (r *Reloader) GetConfig() *Config {
	return r.config.Load()
}

// OnSigningKeyChange registers a callback invoked when the signing key rotates.
func (r *Reloader) OnSigningKeyChange(callback SigningKeyCallback) {
	r.signingKeyCallbacks = append(r.signingKeyCallbacks, callback)
}

// Start begins watching for configuration changes.
func (r *Reloader) Start(ctx context.Context) error {
	if err := r.watcher.Add(r.loader.secretsDir); err != nil {
		return fmt.Errorf("failed to watch secrets directory: %w", err)
	}

	go r.watchLoop(ctx)
	slog.Info("Config reloader started", "secrets_dir", r.loader.secretsDir)
	return nil
}

// Stop stops watching for configuration changes.
func (r *Reloader) Stop() error {
	close(r.stopCh)
	return r.watcher.Close()
}

// watchLoop processes file system events.
func (r *Reloader) watchLoop(ctx context.Context) {
	// Debounce rapid file changes (secret writers may write several times)
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	needsReload := false

	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Debug("Config file changed", "file", event.Name, "op", event.Op)
				needsReload = true
				debounceTimer.Reset(500 * time.Millisecond)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)

		case <-debounceTimer.C:
			if needsReload {
				if err := r.reload(); err != nil {
					slog.Error("Failed to reload configuration", "error", err)
				}
				needsReload = false
			}
		}
	}
}

// reload re-reads the signing key from the secrets mount and swaps the
// in-memory config if it changed. Outstanding tokens signed with the old
// key become invalid on rotation.
func (r *Reloader) reload() error {
	current := r.config.Load()

	newKey, err := r.loader.readSecretFile(filepath.Join(r.loader.secretsDir, "TOKEN_SIGNING_KEY"))
	if err != nil || newKey == "" {
		return fmt.Errorf("failed to read TOKEN_SIGNING_KEY: %w", err)
	}

	if newKey == current.TokenSigningKey {
		slog.Debug("Signing key unchanged after reload")
		return nil
	}

	updated := *current
	updated.TokenSigningKey = newKey
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("reloaded configuration invalid: %w", err)
	}
	r.config.Store(&updated)

	slog.Info("Token signing key rotated")
	for _, callback := range r.signingKeyCallbacks {
		callback(newKey)
	}

	return nil
}

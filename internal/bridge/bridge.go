// Package bridge mirrors settings writes made by sibling execution contexts
// onto the local Bus, so a change made elsewhere reaches local subscribers
// exactly like a local Set.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/panelsync/internal/settings"
	"github.com/alfredjeanlab/panelsync/internal/storage"
)

// Bridge listens for foreign storage changes to the settings key.
type Bridge struct {
	watcher storage.Watcher
	store   *settings.Store
	logger  *slog.Logger

	mu     sync.Mutex
	cancel func()
}

// New returns a Bridge that is not yet listening. A nil logger uses slog.Default().
func New(w storage.Watcher, s *settings.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{watcher: w, store: s, logger: logger}
}

// Start begins listening. Calling Start on a running bridge is a no-op.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}
	cancel, err := b.watcher.Watch(ctx, func(c storage.Change) { b.handle(ctx, c) })
	if err != nil {
		return err
	}
	b.cancel = cancel
	return nil
}

// Stop stops listening. It is idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handle re-reads the record rather than trusting c.NewValue, which may
// have been encoded differently by the writer or superseded since.
func (b *Bridge) handle(ctx context.Context, c storage.Change) {
	if c.Key != settings.StorageKey {
		return
	}
	cur, err := b.store.Reload(ctx)
	if err != nil {
		var re *settings.ReadError
		if errors.As(err, &re) {
			b.logger.Warn("bridge: ignoring malformed settings written by another context",
				"origin", c.Origin, "err", err)
			return
		}
		b.logger.Warn("bridge: reloading settings", "origin", c.Origin, "err", err)
		return
	}
	b.logger.Debug("bridge: mirrored settings change",
		"origin", c.Origin, "deleted", c.Deleted, "refresh_interval", cur.RefreshIntervalSeconds)
}

// Package settings is the single source of truth for the user-editable
// settings record of one execution context.
//
// Every successful Set or Clear publishes exactly one settings-changed event
// on the context's Bus and returns once local subscribers have seen it, so
// they never observe a stale value after the call that changed it. Calls
// made from inside a bus handler with the handler's ctx are the exception:
// their event is delivered right after the current one.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/model"
	"github.com/alfredjeanlab/panelsync/internal/storage"
)

// StorageKey is the durable key the settings record lives under.
const StorageKey = "appSettings"

// Store reads and writes the settings record.
type Store struct {
	storage storage.Store
	bus     *events.Bus
	logger  *slog.Logger

	// writeMu orders read-merge-write cycles within this context.
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for read warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store persisting to st and publishing on bus.
func New(st storage.Store, bus *events.Bus, opts ...Option) *Store {
	s := &Store{storage: st, bus: bus, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current settings. An absent record yields the defaults;
// an unreadable one is logged and also yields the defaults. Get never
// writes.
func (s *Store) Get(ctx context.Context) model.Settings {
	cur, err := s.read(ctx)
	if err != nil {
		s.logger.Warn("settings: using defaults", "err", err)
	}
	return cur
}

// read returns the defaults with a nil error when nothing is stored, and
// the defaults with a *ReadError when the record cannot be used.
func (s *Store) read(ctx context.Context) (model.Settings, error) {
	data, err := s.storage.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.DefaultSettings(), &ReadError{Key: StorageKey, Err: err}
	}

	// Fields missing from an older record keep their defaults.
	cur := model.DefaultSettings()
	if err := json.Unmarshal(data, &cur); err != nil {
		return model.DefaultSettings(), &ReadError{Key: StorageKey, Err: err}
	}
	// Only a record that cannot drive polling is thrown away. The remaining
	// rules are enforced when writing.
	if cur.RefreshIntervalSeconds < 1 {
		return model.DefaultSettings(), &ReadError{Key: StorageKey, Err: &model.ValidationError{
			Errors: []model.FieldError{{
				Field:   "refreshInterval",
				Message: fmt.Sprintf("must be at least 1 second, got %d", cur.RefreshIntervalSeconds),
			}},
		}}
	}
	return cur, nil
}

// Set merges patch over the current value, persists the result and
// publishes it. A *model.ValidationError or *WriteError leaves the stored
// record unchanged and publishes nothing.
//
// The event is published after the write lock is released, so a
// settings-changed handler may itself call Set.
func (s *Store) Set(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	next, err := s.write(ctx, patch)
	if err != nil {
		return model.Settings{}, err
	}
	s.bus.Publish(ctx, events.TopicSettingsChanged, next)
	return next, nil
}

func (s *Store) write(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := patch.Apply(s.Get(ctx))
	if err := model.ValidateSettings(next); err != nil {
		return model.Settings{}, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return model.Settings{}, fmt.Errorf("encoding settings: %w", err)
	}
	if err := s.storage.Put(ctx, StorageKey, data); err != nil {
		return model.Settings{}, &WriteError{Key: StorageKey, Op: "put", Err: err}
	}
	return next, nil
}

// Clear removes the persisted record and publishes the defaults. The
// defaults are not written back.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	err := s.storage.Delete(ctx, StorageKey)
	s.writeMu.Unlock()
	if err != nil {
		return &WriteError{Key: StorageKey, Op: "delete", Err: err}
	}
	s.bus.Publish(ctx, events.TopicSettingsChanged, model.DefaultSettings())
	return nil
}

// Reload re-reads the persisted record and publishes it. It is how writes
// made by another execution context reach local subscribers. A malformed
// record returns a *ReadError and publishes nothing; an absent one
// publishes the defaults.
func (s *Store) Reload(ctx context.Context) (model.Settings, error) {
	cur, err := s.read(ctx)
	if err != nil {
		return cur, err
	}
	s.bus.Publish(ctx, events.TopicSettingsChanged, cur)
	return cur, nil
}

// Subscribe calls fn with every settings value published on the bus,
// whether it came from this context or was mirrored from another.
// fn receives the delivery ctx; pass it to any Set or Clear made from fn.
func (s *Store) Subscribe(fn func(ctx context.Context, cur model.Settings)) (unsubscribe func()) {
	return s.bus.Subscribe(events.TopicSettingsChanged, func(ctx context.Context, payload any) error {
		cur, ok := payload.(model.Settings)
		if !ok {
			return fmt.Errorf("settings-changed: unexpected payload %T", payload)
		}
		fn(ctx, cur)
		return nil
	})
}

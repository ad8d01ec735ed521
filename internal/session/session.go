// Package session reacts to the end of a user session by halting all
// background work of the execution context and dropping its settings.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/poller"
	"github.com/alfredjeanlab/panelsync/internal/settings"
)

// clearTimeout bounds the storage delete performed on teardown.
const clearTimeout = 10 * time.Second

// Manager tears the context down whenever session-ended is published,
// whoever publishes it.
type Manager struct {
	bus    *events.Bus
	sched  *poller.Scheduler
	store  *settings.Store
	logger *slog.Logger

	mu      sync.Mutex
	lastErr error
	unsub   func()
}

// New subscribes the manager to session-ended. A nil logger uses slog.Default().
func New(bus *events.Bus, sched *poller.Scheduler, store *settings.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{bus: bus, sched: sched, store: store, logger: logger}
	m.unsub = bus.Subscribe(events.TopicSessionEnded, m.handle)
	return m
}

// End signals the end of the session and returns once teardown has run,
// with the error of clearing the settings, if any. Called from inside a bus
// handler with the handler's ctx, teardown runs after that handler and End
// reports the previous teardown's error. Calling End twice leaves the same
// state as calling it once.
func (m *Manager) End(ctx context.Context) error {
	m.bus.Publish(ctx, events.TopicSessionEnded, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Close unsubscribes the manager.
func (m *Manager) Close() {
	m.unsub()
}

// handle stops the tasks before clearing the store: Clear publishes the
// default settings, which would otherwise re-enable them.
func (m *Manager) handle(ctx context.Context, _ any) error {
	m.sched.UnregisterAll()

	// ctx carries the delivery mark, so Clear's publish queues instead of
	// waiting on this handler. The publisher's deadline does not apply.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()
	err := m.store.Clear(ctx)

	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.logger.Info("session ended; background work stopped")
	return nil
}

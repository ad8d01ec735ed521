// Package app wires one execution context: its bus, settings store,
// cross-context bridge, scheduler and the consumers polling through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/panelsync/internal/bridge"
	"github.com/alfredjeanlab/panelsync/internal/client"
	"github.com/alfredjeanlab/panelsync/internal/clock"
	"github.com/alfredjeanlab/panelsync/internal/dashboard"
	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/notify"
	"github.com/alfredjeanlab/panelsync/internal/poller"
	"github.com/alfredjeanlab/panelsync/internal/session"
	"github.com/alfredjeanlab/panelsync/internal/settings"
	"github.com/alfredjeanlab/panelsync/internal/storage"
)

// Deps are the collaborators of an execution context.
type Deps struct {
	Storage storage.Store
	// Watcher reports writes by sibling contexts. Nil disables the bridge.
	Watcher storage.Watcher
	API     client.PanelClient
	Clock   clock.Clock
	Logger  *slog.Logger
	// NotificationInterval fixes the notification cadence; zero follows
	// the refresh interval setting.
	NotificationInterval time.Duration
	// Closers are closed after the storage, in order, by Close.
	Closers []io.Closer
}

// Context is one running execution context.
type Context struct {
	Bus           *events.Bus
	Settings      *settings.Store
	Syncer        *settings.Syncer
	Bridge        *bridge.Bridge
	Scheduler     *poller.Scheduler
	Notifications *notify.Center
	Dashboard     *dashboard.Monitor
	Session       *session.Manager

	deps   Deps
	logger *slog.Logger
}

// New builds a context from deps without starting anything. Runs started
// by the scheduler get a context derived from ctx.
func New(ctx context.Context, deps Deps) (*Context, error) {
	if deps.Storage == nil {
		return nil, errors.New("app: storage is required")
	}
	if deps.API == nil {
		return nil, errors.New("app: API client is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := events.NewBus(events.WithErrorSink(func(topic string, err error) {
		logger.Error("event handler failed", "topic", topic, "err", err)
	}))
	store := settings.New(deps.Storage, bus, settings.WithLogger(logger))
	sched := poller.New(
		poller.WithClock(deps.Clock),
		poller.WithLogger(logger),
		poller.WithContext(ctx),
	)

	var notifyOpts []notify.Option
	notifyOpts = append(notifyOpts, notify.WithClock(deps.Clock), notify.WithLogger(logger))
	if deps.NotificationInterval > 0 {
		notifyOpts = append(notifyOpts, notify.WithInterval(deps.NotificationInterval))
	}

	c := &Context{
		Bus:           bus,
		Settings:      store,
		Syncer:        settings.NewSyncer(deps.API, store),
		Scheduler:     sched,
		Notifications: notify.New(deps.API, sched, store, bus, notifyOpts...),
		Dashboard:     dashboard.New(deps.API, sched, store, bus, deps.Clock, logger),
		Session:       session.New(bus, sched, store, logger),
		deps:          deps,
		logger:        logger,
	}
	if deps.Watcher != nil {
		c.Bridge = bridge.New(deps.Watcher, store, logger)
	}
	return c, nil
}

// Start begins listening to sibling contexts and polling.
func (c *Context) Start(ctx context.Context) error {
	if c.Bridge != nil {
		if err := c.Bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting bridge: %w", err)
		}
	} else {
		c.logger.Info("no change feed configured; settings changes from other contexts are not mirrored")
	}
	if err := c.Notifications.Start(ctx); err != nil {
		return err
	}
	if err := c.Dashboard.Start(ctx); err != nil {
		return err
	}
	return nil
}

// Close stops polling, waits for in-flight runs, and releases storage and
// transport resources.
func (c *Context) Close() error {
	c.Notifications.Stop()
	c.Dashboard.Stop()
	if c.Bridge != nil {
		c.Bridge.Stop()
	}
	c.Session.Close()
	c.Scheduler.Close()

	var errs []error
	if err := c.deps.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}
	if err := c.deps.API.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing API client: %w", err))
	}
	for _, cl := range c.deps.Closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

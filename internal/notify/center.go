// Package notify keeps the notification feed of one execution context
// fresh by polling the remote API on a scheduler task.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/panelsync/internal/client"
	"github.com/alfredjeanlab/panelsync/internal/clock"
	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/model"
	"github.com/alfredjeanlab/panelsync/internal/poller"
	"github.com/alfredjeanlab/panelsync/internal/settings"
)

// TaskName is the scheduler task the center registers.
const TaskName = "notifications"

const refreshKey = "refresh"

// Snapshot is the cached state of the feed. UnreadCount always comes from
// the server's count endpoint, never from counting Items.
type Snapshot struct {
	Items       []model.Notification `json:"items"`
	UnreadCount int                  `json:"unreadCount"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	LastError   error                `json:"-"`
}

// Center polls the notification feed and caches the latest response.
type Center struct {
	api    client.NotificationAPI
	sched  *poller.Scheduler
	cfg    *settings.Store
	bus    *events.Bus
	clock  clock.Clock
	logger *slog.Logger

	// interval, when non-zero, decouples the feed cadence from the
	// dashboard refresh interval.
	interval time.Duration

	group singleflight.Group

	// reconfMu orders task updates from settings events and from Start.
	reconfMu sync.Mutex

	mu      sync.Mutex
	snap    Snapshot
	issued  uint64
	applied uint64
	unsub   func()
}

// Option configures a Center.
type Option func(*Center)

// WithInterval polls at a fixed cadence instead of the settings' refresh interval.
func WithInterval(d time.Duration) Option {
	return func(c *Center) { c.interval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Center) { c.logger = l }
}

// WithClock sets the clock used to stamp UpdatedAt.
func WithClock(cl clock.Clock) Option {
	return func(c *Center) { c.clock = cl }
}

// New returns a Center that is not yet polling.
func New(api client.NotificationAPI, sched *poller.Scheduler, cfg *settings.Store, bus *events.Bus, opts ...Option) *Center {
	c := &Center{
		api:    api,
		sched:  sched,
		cfg:    cfg,
		bus:    bus,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start follows settings changes, registers the polling task from the
// current settings, and fetches once right away when enabled.
func (c *Center) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unsub == nil {
		c.unsub = c.cfg.Subscribe(c.onSettings)
	}
	c.mu.Unlock()

	cur := c.cfg.Get(ctx)
	if err := c.sched.Register(TaskName, c.intervalFor(cur), cur.NotificationsEnabled, c.Refresh); err != nil {
		return fmt.Errorf("starting notification polling: %w", err)
	}
	// A change landing between Get and Register found no task to update.
	cur = c.reconcile(ctx)

	if cur.NotificationsEnabled {
		return c.sched.Trigger(TaskName)
	}
	return nil
}

// Stop stops following settings and removes the polling task. In-flight
// fetches still update the cache when they land.
func (c *Center) Stop() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.sched.Unregister(TaskName)
}

func (c *Center) onSettings(_ context.Context, s model.Settings) {
	c.reconfMu.Lock()
	defer c.reconfMu.Unlock()
	c.apply(s)
}

// reconcile applies the stored settings to the task and returns them.
func (c *Center) reconcile(ctx context.Context) model.Settings {
	c.reconfMu.Lock()
	defer c.reconfMu.Unlock()
	cur := c.cfg.Get(ctx)
	c.apply(cur)
	return cur
}

func (c *Center) apply(s model.Settings) {
	interval := c.intervalFor(s)
	enabled := s.NotificationsEnabled
	err := c.sched.Reconfigure(TaskName, poller.Update{Interval: &interval, Enabled: &enabled})
	if err != nil && !errors.Is(err, poller.ErrTaskNotFound) {
		c.logger.Warn("notify: rescheduling", "err", err)
	}
}

func (c *Center) intervalFor(s model.Settings) time.Duration {
	if c.interval > 0 {
		return max(c.interval, poller.MinInterval)
	}
	return max(s.RefreshInterval(), poller.MinInterval)
}

// Refresh fetches the list and the unread count concurrently and replaces
// the cache with them. Concurrent calls share one fetch. A response that
// arrives after a newer one has been applied is dropped.
func (c *Center) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(refreshKey, func() (any, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

func (c *Center) fetch(ctx context.Context) error {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	var (
		items []model.Notification
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = c.api.ListNotifications(gctx)
		if err != nil {
			return fmt.Errorf("listing notifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = c.api.UnreadCount(gctx)
		if err != nil {
			return fmt.Errorf("counting unread notifications: %w", err)
		}
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		c.logger.Debug("notify: dropping stale response", "seq", seq, "applied", c.applied)
		return err
	}
	if err != nil {
		c.snap.LastError = err
		c.mu.Unlock()
		return err
	}
	c.applied = seq
	c.snap = Snapshot{Items: items, UnreadCount: count, UpdatedAt: c.clock.Now()}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.bus.Publish(ctx, events.TopicNotificationsUpdated, snap)
	return nil
}

// MarkAllRead marks every notification read on the server and then
// re-fetches, bypassing any fetch already in flight so the cache reflects
// the post-mutation state. Nothing is changed locally beforehand.
func (c *Center) MarkAllRead(ctx context.Context) error {
	if err := c.api.MarkAllRead(ctx); err != nil {
		return fmt.Errorf("marking notifications read: %w", err)
	}
	c.group.Forget(refreshKey)
	return c.Refresh(ctx)
}

// Snapshot returns a copy of the cached feed.
func (c *Center) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Center) snapshotLocked() Snapshot {
	s := c.snap
	s.Items = slices.Clone(s.Items)
	return s
}

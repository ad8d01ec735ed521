// Package dashboard keeps the dashboard metrics of one execution context
// fresh while auto refresh is enabled.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/panelsync/internal/client"
	"github.com/alfredjeanlab/panelsync/internal/clock"
	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/model"
	"github.com/alfredjeanlab/panelsync/internal/poller"
	"github.com/alfredjeanlab/panelsync/internal/settings"
)

// TaskName is the scheduler task the monitor registers.
const TaskName = "dashboard-metrics"

// Monitor polls the three dashboard datasets together.
type Monitor struct {
	api    client.DashboardAPI
	sched  *poller.Scheduler
	cfg    *settings.Store
	bus    *events.Bus
	clock  clock.Clock
	logger *slog.Logger

	group singleflight.Group

	reconfMu sync.Mutex

	mu      sync.Mutex
	snap    model.DashboardSnapshot
	lastErr error
	issued  uint64
	applied uint64
	unsub   func()
}

// New returns a Monitor that is not yet polling. Nil clock and logger use
// the real clock and slog.Default().
func New(api client.DashboardAPI, sched *poller.Scheduler, cfg *settings.Store, bus *events.Bus, cl clock.Clock, logger *slog.Logger) *Monitor {
	if cl == nil {
		cl = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{api: api, sched: sched, cfg: cfg, bus: bus, clock: cl, logger: logger}
}

// Start follows settings changes, registers the task and loads the
// metrics once, whether or not auto refresh is on.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.unsub == nil {
		m.unsub = m.cfg.Subscribe(m.onSettings)
	}
	m.mu.Unlock()

	cur := m.cfg.Get(ctx)
	interval := max(cur.RefreshInterval(), poller.MinInterval)
	if err := m.sched.Register(TaskName, interval, cur.AutoRefreshEnabled, m.Refresh); err != nil {
		return fmt.Errorf("starting dashboard polling: %w", err)
	}
	m.reconcile(ctx)

	return m.sched.Trigger(TaskName)
}

// Stop stops following settings and removes the task.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.sched.Unregister(TaskName)
}

func (m *Monitor) onSettings(_ context.Context, s model.Settings) {
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()
	m.apply(s)
}

// reconcile applies the stored settings, catching a change that landed
// before the task was registered.
func (m *Monitor) reconcile(ctx context.Context) {
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()
	m.apply(m.cfg.Get(ctx))
}

func (m *Monitor) apply(s model.Settings) {
	interval := max(s.RefreshInterval(), poller.MinInterval)
	enabled := s.AutoRefreshEnabled
	err := m.sched.Reconfigure(TaskName, poller.Update{Interval: &interval, Enabled: &enabled})
	if err != nil && !errors.Is(err, poller.ErrTaskNotFound) {
		m.logger.Warn("dashboard: rescheduling", "err", err)
	}
}

// Refresh fetches stats, role distribution and user growth concurrently.
// The snapshot is only replaced when all three succeed.
func (m *Monitor) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do(TaskName, func() (any, error) {
		return nil, m.fetch(ctx)
	})
	return err
}

func (m *Monitor) fetch(ctx context.Context) error {
	m.mu.Lock()
	m.issued++
	seq := m.issued
	m.mu.Unlock()

	var next model.DashboardSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := m.api.DashboardStats(gctx)
		if err != nil {
			return fmt.Errorf("fetching stats: %w", err)
		}
		next.Stats = *stats
		return nil
	})
	g.Go(func() error {
		roles, err := m.api.RoleDistribution(gctx)
		if err != nil {
			return fmt.Errorf("fetching role distribution: %w", err)
		}
		next.RoleDistribution = roles
		return nil
	})
	g.Go(func() error {
		growth, err := m.api.UserGrowth(gctx)
		if err != nil {
			return fmt.Errorf("fetching user growth: %w", err)
		}
		next.UserGrowth = growth
		return nil
	})
	err := g.Wait()

	m.mu.Lock()
	if seq < m.applied {
		m.mu.Unlock()
		return err
	}
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	next.FetchedAt = m.clock.Now()
	m.applied = seq
	m.snap = next
	m.lastErr = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.bus.Publish(ctx, events.TopicDashboardUpdated, snap)
	return nil
}

// Snapshot returns a copy of the latest metrics and the error of the
// latest failed fetch, if it failed after them.
func (m *Monitor) Snapshot() (model.DashboardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), m.lastErr
}

func (m *Monitor) snapshotLocked() model.DashboardSnapshot {
	s := m.snap
	s.RoleDistribution = slices.Clone(s.RoleDistribution)
	s.UserGrowth = slices.Clone(s.UserGrowth)
	return s
}

// Package poller owns the recurring background fetches of one execution
// context. Tasks are keyed by name, so registering a name twice replaces
// the first task instead of running two timers side by side.
//
// A tick re-arms the task's timer before starting its work, so ticks follow
// the wall clock rather than the completion of the previous run. Runs of the
// same task may overlap; deduplicating requests is up to the work function.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/panelsync/internal/clock"
)

// MinInterval is the shortest accepted task interval.
const MinInterval = time.Second

// Work is one run of a task. A returned error is recorded as the task's
// LastError and logged; it does not affect the schedule.
type Work func(ctx context.Context) error

// State is the scheduling state of a task.
type State int

const (
	// Stopped tasks have no timer armed and nothing in flight.
	Stopped State = iota
	// Scheduled tasks have a timer armed and nothing in flight.
	Scheduled
	// Running tasks have at least one run in flight.
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TaskStatus is a point-in-time view of one task.
type TaskStatus struct {
	Name      string
	Interval  time.Duration
	Enabled   bool
	State     State
	Runs      int
	InFlight  int
	// LastRunAt is when the most recent run finished, successful or not.
	LastRunAt time.Time
	NextRunAt time.Time
	LastError error
}

// Update changes a task's configuration. Nil fields are left alone.
type Update struct {
	Interval *time.Duration
	Enabled  *bool
}

type task struct {
	name     string
	interval time.Duration
	enabled  bool
	work     Work

	timer *clock.Timer
	// gen is bumped on every arm and disarm; a timer callback carrying an
	// older generation lost a race with a reconfigure and does nothing.
	gen     uint64
	nextRun time.Time

	inFlight  int
	runs      int
	lastRunAt time.Time
	lastErr   error
}

// Scheduler runs named tasks on their own intervals.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

// Option configures a Scheduler.
type Option func(*schedulerConfig)

type schedulerConfig struct {
	clock  clock.Clock
	logger *slog.Logger
	ctx    context.Context
}

// WithClock replaces the real clock, typically with clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *schedulerConfig) { cfg.clock = c }
}

// WithLogger sets the logger for run failures.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *schedulerConfig) { cfg.logger = l }
}

// WithContext sets the parent of the context passed to every run.
func WithContext(ctx context.Context) Option {
	return func(cfg *schedulerConfig) { cfg.ctx = ctx }
}

// New creates a Scheduler with no tasks.
func New(opts ...Option) *Scheduler {
	cfg := schedulerConfig{
		clock:  clock.Real(),
		logger: slog.Default(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(cfg.ctx)
	return &Scheduler{
		clock:  cfg.clock,
		logger: cfg.logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// Register creates the task name, replacing any task already registered
// under it. The old task's timer is torn down first; its in-flight runs are
// left to finish. An enabled task first runs one interval from now.
func (s *Scheduler) Register(name string, interval time.Duration, enabled bool, work Work) error {
	if interval < MinInterval {
		return fmt.Errorf("register %s: %w", name, ErrInvalidInterval)
	}
	if work == nil {
		return fmt.Errorf("register %s: nil work", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if old, ok := s.tasks[name]; ok {
		s.disarmLocked(old)
	}
	t := &task{name: name, interval: interval, enabled: enabled, work: work}
	s.tasks[name] = t
	if enabled {
		s.armLocked(t)
	}
	s.logger.Debug("poller: registered task", "task", name, "interval", interval, "enabled", enabled)
	return nil
}

// Reconfigure applies u to the task name.
//
//   - disabled to enabled: the work runs immediately and a timer is armed.
//   - enabled to disabled: the timer is cancelled; in-flight runs finish.
//   - interval change while enabled: the timer restarts from now.
func (s *Scheduler) Reconfigure(name string, u Update) error {
	if u.Interval != nil && *u.Interval < MinInterval {
		return fmt.Errorf("reconfigure %s: %w", name, ErrInvalidInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("reconfigure %s: %w", name, ErrTaskNotFound)
	}

	wasEnabled := t.enabled
	intervalChanged := false
	if u.Interval != nil && *u.Interval != t.interval {
		t.interval = *u.Interval
		intervalChanged = true
	}
	if u.Enabled != nil {
		t.enabled = *u.Enabled
	}

	switch {
	case !wasEnabled && t.enabled:
		s.launchLocked(t)
		s.armLocked(t)
	case wasEnabled && !t.enabled:
		s.disarmLocked(t)
	case t.enabled && intervalChanged:
		s.armLocked(t)
	}
	return nil
}

// Unregister cancels and removes the task. It is a no-op for unknown names.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		s.disarmLocked(t)
		delete(s.tasks, name)
	}
}

// UnregisterAll cancels and removes every task.
func (s *Scheduler) UnregisterAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.tasks {
		s.disarmLocked(t)
		delete(s.tasks, name)
	}
}

// Trigger starts an out-of-band run of name without touching its schedule.
// It works on disabled tasks too.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("trigger %s: %w", name, ErrTaskNotFound)
	}
	s.launchLocked(t)
	return nil
}

// Status returns the current view of name.
func (s *Scheduler) Status(name string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return TaskStatus{}, false
	}
	return t.status(), true
}

// Tasks returns every registered task, sorted by name.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.status())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close removes every task, cancels the context of in-flight runs and waits
// for them to return. It is meant for process shutdown and must not be
// called from inside a Work function.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for name, t := range s.tasks {
		s.disarmLocked(t)
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (t *task) status() TaskStatus {
	st := Stopped
	switch {
	case t.inFlight > 0:
		st = Running
	case t.timer != nil:
		st = Scheduled
	}
	return TaskStatus{
		Name:      t.name,
		Interval:  t.interval,
		Enabled:   t.enabled,
		State:     st,
		Runs:      t.runs,
		InFlight:  t.inFlight,
		LastRunAt: t.lastRunAt,
		NextRunAt: t.nextRun,
		LastError: t.lastErr,
	}
}

// armLocked (re)starts t's timer one interval from now, replacing any
// timer already armed.
func (s *Scheduler) armLocked(t *task) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.nextRun = s.clock.Now().Add(t.interval)
	t.timer = s.clock.AfterFunc(t.interval, func() { s.tick(t, gen) })
}

func (s *Scheduler) disarmLocked(t *task) {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.nextRun = time.Time{}
}

func (s *Scheduler) tick(t *task, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[t.name] != t || t.gen != gen || !t.enabled {
		return
	}
	s.armLocked(t)
	s.launchLocked(t)
}

func (s *Scheduler) launchLocked(t *task) {
	if s.closed {
		return
	}
	t.inFlight++
	t.runs++

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(t)

		s.mu.Lock()
		defer s.mu.Unlock()
		t.inFlight--
		t.lastRunAt = s.clock.Now()
		if err != nil {
			t.lastErr = &FetchError{Task: t.name, Err: err}
			s.logger.Warn("poller: task run failed", "task", t.name, "err", err)
			return
		}
		t.lastErr = nil
	}()
}

func (s *Scheduler) run(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.work(s.ctx)
}

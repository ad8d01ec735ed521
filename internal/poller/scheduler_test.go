package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/panelsync/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// recorder is a Work that reports each call on a channel.
type recorder struct {
	calls chan struct{}
	err   error
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan struct{}, 64)}
}

func (r *recorder) work(context.Context) error {
	r.calls <- struct{}{}
	return r.err
}

// expectCalls waits for exactly n calls and then checks no more arrive.
func (r *recorder) expectCalls(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d calls, want %d", i, n)
		}
	}
	select {
	case <-r.calls:
		t.Fatalf("got more than %d calls", n)
	case <-time.After(30 * time.Millisecond):
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	s := New(WithClock(fake))
	t.Cleanup(s.Close)
	return s, fake
}

func durPtr(d time.Duration) *time.Duration { return &d }
func boolPtr(b bool) *bool                  { return &b }

func TestRegister_TicksOnInterval(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 5*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fake.Advance(4 * time.Second)
	r.expectCalls(t, 0)
	fake.Advance(time.Second)
	r.expectCalls(t, 1)
	fake.Advance(10 * time.Second)
	r.expectCalls(t, 2)
}

func TestRegister_TwiceKeepsOneTimer(t *testing.T) {
	s, fake := newTestScheduler(t)
	first := newRecorder()
	second := newRecorder()

	if err := s.Register("x", 5*time.Second, true, first.work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("x", 5*time.Second, true, second.work); err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if n := fake.PendingCount(); n != 1 {
		t.Fatalf("PendingCount = %d, want 1", n)
	}

	fake.Advance(5 * time.Second)
	first.expectCalls(t, 0)
	second.expectCalls(t, 1)
	if n := fake.PendingCount(); n != 1 {
		t.Fatalf("PendingCount after tick = %d, want 1", n)
	}
}

func TestRegister_Disabled(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 5*time.Second, false, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("disabled task armed %d timers", n)
	}
	fake.Advance(time.Minute)
	r.expectCalls(t, 0)

	st, ok := s.Status("x")
	if !ok || st.State != Stopped || st.Enabled {
		t.Fatalf("Status = %+v, %v", st, ok)
	}
}

func TestRegister_InvalidInterval(t *testing.T) {
	s, _ := newTestScheduler(t)
	for _, d := range []time.Duration{0, -time.Second, 999 * time.Millisecond} {
		if err := s.Register("x", d, true, newRecorder().work); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("Register(%v) = %v, want ErrInvalidInterval", d, err)
		}
	}
	if _, ok := s.Status("x"); ok {
		t.Fatal("rejected task was registered")
	}
}

func TestReconfigure_IntervalRearmsFromNow(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 30*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fake.Advance(20 * time.Second)
	if err := s.Reconfigure("x", Update{Interval: durPtr(5 * time.Second)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if n := fake.PendingCount(); n != 1 {
		t.Fatalf("PendingCount = %d, want 1", n)
	}

	fake.Advance(4 * time.Second)
	r.expectCalls(t, 0)
	fake.Advance(time.Second)
	r.expectCalls(t, 1)

	st, _ := s.Status("x")
	if st.Interval != 5*time.Second || !st.NextRunAt.Equal(epoch.Add(30*time.Second)) {
		t.Fatalf("Status = %+v", st)
	}
}

func TestReconfigure_EnableRunsImmediately(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 10*time.Second, false, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Reconfigure("x", Update{Enabled: boolPtr(true)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	r.expectCalls(t, 1)
	if n := fake.PendingCount(); n != 1 {
		t.Fatalf("PendingCount = %d, want 1", n)
	}

	fake.Advance(10 * time.Second)
	r.expectCalls(t, 1)

	// Enabling an enabled task is not a transition.
	if err := s.Reconfigure("x", Update{Enabled: boolPtr(true)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	r.expectCalls(t, 0)
}

func TestReconfigure_DisableStopsTicks(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 5*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Reconfigure("x", Update{Enabled: boolPtr(false)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("PendingCount = %d, want 0", n)
	}
	fake.Advance(time.Minute)
	r.expectCalls(t, 0)

	// Changing the interval of a disabled task arms nothing.
	if err := s.Reconfigure("x", Update{Interval: durPtr(2 * time.Second)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	fake.Advance(time.Minute)
	r.expectCalls(t, 0)
}

func TestReconfigure_Errors(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.Reconfigure("missing", Update{Enabled: boolPtr(true)}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Reconfigure(missing) = %v, want ErrTaskNotFound", err)
	}
	if err := s.Register("x", 5*time.Second, true, newRecorder().work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Reconfigure("x", Update{Interval: durPtr(0)}); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("Reconfigure(interval=0) = %v, want ErrInvalidInterval", err)
	}
	st, _ := s.Status("x")
	if st.Interval != 5*time.Second {
		t.Fatalf("rejected reconfigure changed interval to %v", st.Interval)
	}
}

func TestFailure_KeepsTicking(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	r.err = errors.New("connection refused")
	if err := s.Register("x", 5*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		fake.Advance(5 * time.Second)
		r.expectCalls(t, 1)
	}

	waitIdle(t, s, "x")
	st, _ := s.Status("x")
	var fe *FetchError
	if !errors.As(st.LastError, &fe) || fe.Task != "x" || !errors.Is(st.LastError, r.err) {
		t.Fatalf("LastError = %v, want *FetchError wrapping %v", st.LastError, r.err)
	}
	if st.State != Scheduled || st.Runs != 3 {
		t.Fatalf("Status = %+v", st)
	}
}

func TestFailure_PanicIsRecorded(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.Register("x", 5*time.Second, false, func(context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Trigger("x"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitIdle(t, s, "x")
	st, _ := s.Status("x")
	var fe *FetchError
	if !errors.As(st.LastError, &fe) {
		t.Fatalf("LastError = %v, want *FetchError", st.LastError)
	}
}

func TestTicksAreNotChainedToCompletion(t *testing.T) {
	s, fake := newTestScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	work := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	if err := s.Register("x", 5*time.Second, true, work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer close(release)

	fake.Advance(5 * time.Second)
	<-started
	fake.Advance(5 * time.Second)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("second tick waited for the first run")
	}

	st, _ := s.Status("x")
	if st.State != Running || st.InFlight != 2 {
		t.Fatalf("Status = %+v, want Running with 2 in flight", st)
	}
}

func TestDisableLetsInFlightRunFinish(t *testing.T) {
	s, fake := newTestScheduler(t)
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false
	work := func(context.Context) error {
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}
	if err := s.Register("x", 5*time.Second, true, work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fake.Advance(5 * time.Second)

	if err := s.Reconfigure("x", Update{Enabled: boolPtr(false)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	close(release)
	waitIdle(t, s, "x")

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Fatal("in-flight run was aborted")
	}
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("PendingCount = %d, want 0", n)
	}
}

func TestLastRunAtIsSetOnCompletion(t *testing.T) {
	s, fake := newTestScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	work := func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	if err := s.Register("x", time.Minute, true, work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Trigger("x"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	<-started

	st, _ := s.Status("x")
	if st.InFlight != 1 || !st.LastRunAt.IsZero() {
		t.Fatalf("Status while running = %+v, want one in flight and no LastRunAt", st)
	}

	fake.Advance(2 * time.Second)
	close(release)
	waitIdle(t, s, "x")

	st, _ = s.Status("x")
	if want := epoch.Add(2 * time.Second); !st.LastRunAt.Equal(want) {
		t.Fatalf("LastRunAt = %v, want %v", st.LastRunAt, want)
	}
}

func TestTrigger(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 5*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fake.Advance(3 * time.Second)
	if err := s.Trigger("x"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	r.expectCalls(t, 1)

	// The schedule is untouched: the next tick is still at 5s.
	fake.Advance(2 * time.Second)
	r.expectCalls(t, 1)

	if err := s.Trigger("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Trigger(missing) = %v, want ErrTaskNotFound", err)
	}
}

func TestUnregister(t *testing.T) {
	s, fake := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 5*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Unregister("x")
	s.Unregister("x")
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("PendingCount = %d, want 0", n)
	}
	fake.Advance(time.Minute)
	r.expectCalls(t, 0)
	if _, ok := s.Status("x"); ok {
		t.Fatal("task still registered")
	}
}

func TestUnregisterAll(t *testing.T) {
	s, fake := newTestScheduler(t)
	a, b := newRecorder(), newRecorder()
	_ = s.Register("a", 5*time.Second, true, a.work)
	_ = s.Register("b", 7*time.Second, true, b.work)

	if got := s.Tasks(); len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("Tasks = %+v", got)
	}
	s.UnregisterAll()
	if got := s.Tasks(); len(got) != 0 {
		t.Fatalf("Tasks after UnregisterAll = %+v", got)
	}
	fake.Advance(time.Minute)
	a.expectCalls(t, 0)
	b.expectCalls(t, 0)
}

func TestStaleTimerCallbackIsIgnored(t *testing.T) {
	s, _ := newTestScheduler(t)
	r := newRecorder()
	if err := s.Register("x", 5*time.Second, true, r.work); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.mu.Lock()
	tk := s.tasks["x"]
	staleGen := tk.gen
	s.mu.Unlock()

	if err := s.Reconfigure("x", Update{Interval: durPtr(8 * time.Second)}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	// A callback from the replaced timer that already escaped Stop.
	s.tick(tk, staleGen)
	r.expectCalls(t, 0)
}

func TestClose(t *testing.T) {
	fake := clock.Fake(epoch)
	s := New(WithClock(fake))

	ctxErr := make(chan error, 1)
	work := func(ctx context.Context) error {
		<-ctx.Done()
		ctxErr <- ctx.Err()
		return ctx.Err()
	}
	if err := s.Register("x", 5*time.Second, true, work); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fake.Advance(5 * time.Second)

	s.Close()
	if err := <-ctxErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("run context error = %v, want context.Canceled", err)
	}
	if err := s.Register("y", 5*time.Second, true, work); !errors.Is(err, ErrClosed) {
		t.Fatalf("Register after Close = %v, want ErrClosed", err)
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		s    State
		want string
	}{
		{Stopped, "stopped"},
		{Scheduled, "scheduled"},
		{Running, "running"},
		{State(9), "State(9)"},
	} {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}

// waitIdle polls until name has nothing in flight.
func waitIdle(t *testing.T, s *Scheduler, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := s.Status(name); ok && st.InFlight == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s still running", name)
}

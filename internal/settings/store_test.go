package settings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/model"
	"github.com/alfredjeanlab/panelsync/internal/storage"
)

// countingStore wraps a Store and records writes, optionally failing them.
type countingStore struct {
	storage.Store
	puts, deletes int
	failWrites    error
	failReads     error
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if c.failReads != nil {
		return nil, c.failReads
	}
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Put(ctx context.Context, key string, value []byte) error {
	if c.failWrites != nil {
		return c.failWrites
	}
	c.puts++
	return c.Store.Put(ctx, key, value)
}

func (c *countingStore) Delete(ctx context.Context, key string) error {
	if c.failWrites != nil {
		return c.failWrites
	}
	c.deletes++
	return c.Store.Delete(ctx, key)
}

func newTestStore(t *testing.T) (*Store, *countingStore, *events.Bus) {
	t.Helper()
	backing := &countingStore{Store: storage.NewMemory().Context()}
	bus := events.NewBus()
	return New(backing, bus), backing, bus
}

func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestGet_DefaultsAreIdempotentAndNotPersisted(t *testing.T) {
	ctx := context.Background()
	s, backing, _ := newTestStore(t)

	first := s.Get(ctx)
	second := s.Get(ctx)
	if first != model.DefaultSettings() || second != first {
		t.Fatalf("Get = %+v then %+v, want defaults twice", first, second)
	}
	if backing.puts != 0 {
		t.Fatalf("Get wrote %d times, want 0", backing.puts)
	}
	if _, err := backing.Store.Get(ctx, StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("storage after Get: %v, want ErrNotFound", err)
	}
}

func TestGet_CorruptRecordYieldsDefaults(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		raw  string
	}{
		{"not json", "{oops"},
		{"wrong type", `{"refreshInterval":"fast"}`},
		{"invalid interval", `{"refreshInterval":0}`},
		{"negative interval", `{"refreshInterval":-5,"enableNotifications":false}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, backing, _ := newTestStore(t)
			if err := backing.Store.Put(ctx, StorageKey, []byte(tc.raw)); err != nil {
				t.Fatalf("seeding storage: %v", err)
			}
			if got := s.Get(ctx); got != model.DefaultSettings() {
				t.Fatalf("Get = %+v, want defaults", got)
			}
			raw, _ := backing.Store.Get(ctx, StorageKey)
			if string(raw) != tc.raw {
				t.Fatalf("corrupt record was rewritten to %s", raw)
			}
		})
	}
}

func TestGet_ReadFailureYieldsDefaults(t *testing.T) {
	s, backing, _ := newTestStore(t)
	backing.failReads = errors.New("disk gone")
	if got := s.Get(context.Background()); got != model.DefaultSettings() {
		t.Fatalf("Get = %+v, want defaults", got)
	}
}

func TestGet_PartialRecordKeepsDefaultsForMissingFields(t *testing.T) {
	ctx := context.Background()
	s, backing, _ := newTestStore(t)
	_ = backing.Store.Put(ctx, StorageKey, []byte(`{"refreshInterval":12}`))

	got := s.Get(ctx)
	want := model.DefaultSettings()
	want.RefreshIntervalSeconds = 12
	if got != want {
		t.Fatalf("Get = %+v, want %+v", got, want)
	}
}

func TestSet_RoundTripAndPublishesOnce(t *testing.T) {
	ctx := context.Background()
	s, _, bus := newTestStore(t)

	var seen []model.Settings
	bus.Subscribe(events.TopicSettingsChanged, func(_ context.Context, p any) error {
		seen = append(seen, p.(model.Settings))
		return nil
	})

	got, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(5), AutoRefreshEnabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := model.DefaultSettings()
	want.RefreshIntervalSeconds = 5
	want.AutoRefreshEnabled = false
	if got != want {
		t.Fatalf("Set = %+v, want %+v", got, want)
	}
	if len(seen) != 1 || seen[0] != want {
		t.Fatalf("published %+v, want exactly [%+v]", seen, want)
	}

	// A second patch merges over the first.
	got, err = s.Set(ctx, model.SettingsPatch{SystemName: strPtr("Ops")})
	if err != nil {
		t.Fatalf("second Set: %v", err)
	}
	want.SystemName = "Ops"
	if got != want || s.Get(ctx) != want {
		t.Fatalf("after second Set: returned %+v, Get %+v, want %+v", got, s.Get(ctx), want)
	}
	if len(seen) != 2 {
		t.Fatalf("published %d events, want 2", len(seen))
	}
}

func TestSet_ValidationRejectsAndLeavesRecord(t *testing.T) {
	ctx := context.Background()
	s, backing, bus := newTestStore(t)

	if _, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(10)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before := s.Get(ctx)
	puts := backing.puts

	published := 0
	bus.Subscribe(events.TopicSettingsChanged, func(context.Context, any) error { published++; return nil })

	_, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(0)})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Set(refreshInterval=0) = %v, want *ValidationError", err)
	}
	if _, ok := ve.Field("refreshInterval"); !ok {
		t.Fatalf("validation error does not name refreshInterval: %v", ve)
	}
	if s.Get(ctx) != before {
		t.Fatalf("record changed to %+v after rejected Set", s.Get(ctx))
	}
	if backing.puts != puts || published != 0 {
		t.Fatalf("rejected Set wrote %d times and published %d events", backing.puts-puts, published)
	}
}

func TestSet_WriteFailurePublishesNothing(t *testing.T) {
	s, backing, bus := newTestStore(t)
	backing.failWrites = errors.New("quota exceeded")

	published := 0
	bus.Subscribe(events.TopicSettingsChanged, func(context.Context, any) error { published++; return nil })

	_, err := s.Set(context.Background(), model.SettingsPatch{RefreshIntervalSeconds: intPtr(3)})
	var we *WriteError
	if !errors.As(err, &we) || we.Op != "put" {
		t.Fatalf("Set = %v, want *WriteError(put)", err)
	}
	if published != 0 {
		t.Fatalf("published %d events after failed write", published)
	}
}

func TestSet_VisibleToSubscribersBeforeReturn(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	var observed model.Settings
	s.Subscribe(func(_ context.Context, v model.Settings) { observed = s.Get(ctx) })

	got, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(7)})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if observed != got {
		t.Fatalf("subscriber read %+v during publish, want %+v", observed, got)
	}
}

func TestSet_FromHandlerDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	var seen []int
	s.Subscribe(func(hctx context.Context, v model.Settings) {
		seen = append(seen, v.RefreshIntervalSeconds)
		if v.RefreshIntervalSeconds == 5 {
			if _, err := s.Set(hctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(6)}); err != nil {
				t.Errorf("nested Set: %v", err)
			}
		}
	})

	if _, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(5)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(seen) != 2 || seen[0] != 5 || seen[1] != 6 {
		t.Fatalf("seen = %v, want [5 6]", seen)
	}
}

func TestClear_PublishesDefaultsWithoutWriting(t *testing.T) {
	ctx := context.Background()
	s, backing, _ := newTestStore(t)

	if _, err := s.Set(ctx, model.SettingsPatch{NotificationsEnabled: boolPtr(false)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	puts := backing.puts

	var seen []model.Settings
	s.Subscribe(func(_ context.Context, v model.Settings) { seen = append(seen, v) })

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(seen) != 1 || seen[0] != model.DefaultSettings() {
		t.Fatalf("Clear published %+v, want [defaults]", seen)
	}
	if backing.puts != puts {
		t.Fatal("Clear wrote the defaults back")
	}
	if _, err := backing.Store.Get(ctx, StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("storage after Clear: %v, want ErrNotFound", err)
	}

	// Clearing twice is harmless.
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	s, backing, _ := newTestStore(t)

	var seen []model.Settings
	s.Subscribe(func(_ context.Context, v model.Settings) { seen = append(seen, v) })

	// A record written behind the store's back.
	_ = backing.Store.Put(ctx, StorageKey, []byte(`{"systemName":"Edge","apiEndpoint":"https://api.example.com","refreshInterval":9,"enableNotifications":false,"enableAutoRefresh":true}`))
	got, err := s.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got.SystemName != "Edge" || got.RefreshIntervalSeconds != 9 || got.NotificationsEnabled {
		t.Fatalf("Reload = %+v", got)
	}

	_ = backing.Store.Put(ctx, StorageKey, []byte("garbage"))
	_, err = s.Reload(ctx)
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("Reload of garbage = %v, want *ReadError", err)
	}

	_ = backing.Store.Delete(ctx, StorageKey)
	if _, err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload of absent record: %v", err)
	}

	if len(seen) != 2 || seen[0] != got || seen[1] != model.DefaultSettings() {
		t.Fatalf("published %+v, want [reloaded, defaults]", seen)
	}
}

func TestGet_KeepsRecordFailingWriteOnlyRules(t *testing.T) {
	ctx := context.Background()
	s, backing, _ := newTestStore(t)

	// Written by an older or laxer writer: endpoint without a scheme, blank name.
	raw := `{"systemName":"","apiEndpoint":"localhost:8080","refreshInterval":20,"enableNotifications":false,"enableAutoRefresh":false}`
	if err := backing.Store.Put(ctx, StorageKey, []byte(raw)); err != nil {
		t.Fatalf("seeding storage: %v", err)
	}

	got := s.Get(ctx)
	if got.NotificationsEnabled || got.AutoRefreshEnabled || got.RefreshIntervalSeconds != 20 {
		t.Fatalf("Get = %+v, want the stored toggles and interval", got)
	}
	if got.APIEndpoint != "localhost:8080" {
		t.Errorf("APIEndpoint = %q", got.APIEndpoint)
	}

	// Writes still enforce every rule.
	_, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(25)})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Set over a lax record = %v, want *ValidationError", err)
	}
	if _, err := s.Set(ctx, model.SettingsPatch{
		SystemName:  strPtr("Ops"),
		APIEndpoint: strPtr("http://localhost:8080"),
	}); err != nil {
		t.Fatalf("Set fixing the record: %v", err)
	}
}

func TestSet_WaitsForConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	s, _, bus := newTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	bus.Subscribe(events.TopicNotificationsUpdated, func(context.Context, any) error {
		close(entered)
		<-release
		return nil
	})
	var seen atomic.Int32
	s.Subscribe(func(_ context.Context, v model.Settings) {
		seen.Store(int32(v.RefreshIntervalSeconds))
	})

	// A poller goroutine is delivering its own event.
	go bus.Publish(ctx, events.TopicNotificationsUpdated, nil)
	<-entered
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	if _, err := s.Set(ctx, model.SettingsPatch{RefreshIntervalSeconds: intPtr(5)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := seen.Load(); got != 5 {
		t.Fatalf("subscriber saw %d when Set returned, want 5", got)
	}
}

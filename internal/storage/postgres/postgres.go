// Package postgres implements storage.Store and storage.Watcher on
// PostgreSQL. Writes are announced by a trigger through LISTEN/NOTIFY, so
// contexts in different processes see each other without a broker.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/panelsync/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Channel is the NOTIFY channel the kv trigger announces writes on.
const Channel = "panel_storage"

// Store is one execution context's handle on the kv table.
type Store struct {
	db     *sql.DB
	url    string
	origin string
	logger *slog.Logger
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// New opens a connection to the database at databaseURL, configures the
// pool, and runs pending migrations. origin is stamped on this context's
// writes so its own announcements can be told apart.
func New(databaseURL, origin string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, url: databaseURL, origin: origin, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Origin returns the context ID stamped on this handle's writes.
func (s *Store) Origin() string { return s.origin }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, origin, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			origin = EXCLUDED.origin,
			updated_at = now()`,
		key, value, s.origin)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", key, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `SELECT set_config('panel.origin', $1, true)`, s.origin); err != nil {
		return fmt.Errorf("set origin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s: %w", key, err)
	}
	return nil
}

// notification is the JSON payload built by the kv_notify trigger.
type notification struct {
	Key     string `json:"key"`
	Origin  string `json:"origin"`
	Deleted bool   `json:"deleted"`
}

func parseNotification(extra string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if n.Key == "" {
		return n, errors.New("decode notification: missing key")
	}
	return n, nil
}

// Watch listens on Channel with a dedicated connection. Notifications carry
// only the key, so the new value is read back before fn is called and
// Change.OldValue is always empty.
func (s *Store) Watch(ctx context.Context, fn func(storage.Change)) (func(), error) {
	listener := pq.NewListener(s.url, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("postgres listener event", "event", ev, "err", err)
		}
	})
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", Channel, err)
	}

	ctx, cancelCtx := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case pn, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect; notifications may have been lost.
				if pn == nil {
					continue
				}
				s.deliver(ctx, pn.Extra, fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			listener.Close()
			<-done
		})
	}, nil
}

func (s *Store) deliver(ctx context.Context, extra string, fn func(storage.Change)) {
	n, err := parseNotification(extra)
	if err != nil {
		s.logger.Warn("postgres: bad notification", "payload", extra, "err", err)
		return
	}
	if n.Origin == s.origin {
		return
	}
	change := storage.Change{Key: n.Key, Deleted: n.Deleted, Origin: n.Origin}
	if !n.Deleted {
		value, err := s.Get(ctx, n.Key)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted again before we read it; the delete announcement follows.
			return
		}
		if err != nil {
			s.logger.Warn("postgres: reading changed key", "key", n.Key, "err", err)
			return
		}
		change.NewValue = value
	}
	fn(change)
}

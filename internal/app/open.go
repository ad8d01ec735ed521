package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alfredjeanlab/panelsync/internal/client"
	"github.com/alfredjeanlab/panelsync/internal/config"
	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/idgen"
	"github.com/alfredjeanlab/panelsync/internal/storage"
	"github.com/alfredjeanlab/panelsync/internal/storage/postgres"
	"github.com/alfredjeanlab/panelsync/internal/storage/s3store"
	"github.com/alfredjeanlab/panelsync/internal/storage/sqlite"
)

// Open builds the storage backend and API client selected by cfg and
// returns an unstarted context over them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	origin := idgen.MustContextID()
	logger = logger.With("context", origin)

	st, watcher, closers, err := openStorage(ctx, cfg, origin, logger)
	if err != nil {
		return nil, err
	}

	opts := []client.Option{client.WithToken(cfg.AuthToken)}
	if cfg.APIRate > 0 {
		opts = append(opts, client.WithRateLimit(cfg.APIRate, max(1, int(cfg.APIRate))))
	}

	c, err := New(ctx, Deps{
		Storage:              st,
		Watcher:              watcher,
		API:                  client.NewHTTPClient(cfg.APIURL, opts...),
		Logger:               logger,
		NotificationInterval: cfg.NotifyInterval,
		Closers:              closers,
	})
	if err != nil {
		st.Close()
		closeAll(closers)
		return nil, err
	}
	return c, nil
}

func openStorage(ctx context.Context, cfg *config.Config, origin string, logger *slog.Logger) (storage.Store, storage.Watcher, []io.Closer, error) {
	var base storage.Store
	switch cfg.Storage {
	case config.StorageMemory:
		// Process-local: nothing to share with.
		return storage.NewMemory().Context(), nil, nil, nil
	case config.StoragePostgres:
		pg, err := postgres.New(cfg.DatabaseURL, origin, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return pg, pg, nil, nil
	case config.StorageFile:
		f, err := storage.NewFile(cfg.StateDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening file storage: %w", err)
		}
		base = f
	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.SQLitePath())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		base = db
	case config.StorageS3:
		s, err := s3store.New(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening s3 storage: %w", err)
		}
		base = s
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	if cfg.NATSURL == "" {
		return base, nil, nil, nil
	}

	pub, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		base.Close()
		return nil, nil, nil, err
	}
	sub, err := events.NewNATSSubscriber(cfg.NATSURL)
	if err != nil {
		pub.Close()
		base.Close()
		return nil, nil, nil, err
	}
	n := storage.NewNotifying(base, origin, pub, sub, logger)
	return n, n, []io.Closer{sub, pub}, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

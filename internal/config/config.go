// Package config loads the panel configuration from an optional TOML file
// and PANEL_* environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backends accepted by PANEL_STORAGE.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageS3       = "s3"
)

type Config struct {
	APIURL    string // PANEL_API_URL (default "http://localhost:8080")
	AuthToken string // PANEL_AUTH_TOKEN (optional)
	NATSURL   string // PANEL_NATS_URL (optional; enables cross-process notification for file/sqlite/s3)

	Storage     string // PANEL_STORAGE (default "file")
	StateDir    string // PANEL_STATE_DIR (default ~/.local/state/panel)
	DatabaseURL string // PANEL_DATABASE_URL (required for postgres)

	S3Bucket   string // PANEL_S3_BUCKET (required for s3)
	S3Prefix   string // PANEL_S3_PREFIX (default "panel")
	S3Region   string // PANEL_S3_REGION (default "us-east-1")
	S3Endpoint string // PANEL_S3_ENDPOINT (custom endpoint for MinIO)

	NotifyInterval time.Duration // PANEL_NOTIFY_INTERVAL (0 = follow the refresh interval setting)
	APIRate        float64       // PANEL_API_RATE requests per second (0 = unlimited)

	LogFile  string // PANEL_LOG_FILE (optional; rotated)
	LogLevel string // PANEL_LOG_LEVEL (default "info")
}

// fileConfig is the TOML file layout. Every key is optional.
type fileConfig struct {
	APIURL         string  `toml:"api_url"`
	AuthToken      string  `toml:"auth_token"`
	NATSURL        string  `toml:"nats_url"`
	Storage        string  `toml:"storage"`
	StateDir       string  `toml:"state_dir"`
	DatabaseURL    string  `toml:"database_url"`
	S3Bucket       string  `toml:"s3_bucket"`
	S3Prefix       string  `toml:"s3_prefix"`
	S3Region       string  `toml:"s3_region"`
	S3Endpoint     string  `toml:"s3_endpoint"`
	NotifyInterval string  `toml:"notify_interval"`
	APIRate        float64 `toml:"api_rate"`
	LogFile        string  `toml:"log_file"`
	LogLevel       string  `toml:"log_level"`
}

// DefaultPath returns ~/.config/panel/config.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "panel", "config.toml"), nil
}

// Load reads the file named by PANEL_CONFIG (which must exist), or the
// default path (which may not), then applies the environment.
func Load() (*Config, error) {
	var fc fileConfig
	path := os.Getenv("PANEL_CONFIG")
	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			if !errors.Is(err, os.ErrNotExist) || explicit {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	stateDir := fc.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			stateDir = filepath.Join(home, ".local", "state", "panel")
		}
	}

	c := &Config{
		APIURL:      envOrDefault("PANEL_API_URL", or(fc.APIURL, "http://localhost:8080")),
		AuthToken:   envOrDefault("PANEL_AUTH_TOKEN", fc.AuthToken),
		NATSURL:     envOrDefault("PANEL_NATS_URL", fc.NATSURL),
		Storage:     envOrDefault("PANEL_STORAGE", or(fc.Storage, StorageFile)),
		StateDir:    envOrDefault("PANEL_STATE_DIR", stateDir),
		DatabaseURL: envOrDefault("PANEL_DATABASE_URL", fc.DatabaseURL),
		S3Bucket:    envOrDefault("PANEL_S3_BUCKET", fc.S3Bucket),
		S3Prefix:    envOrDefault("PANEL_S3_PREFIX", or(fc.S3Prefix, "panel")),
		S3Region:    envOrDefault("PANEL_S3_REGION", or(fc.S3Region, "us-east-1")),
		S3Endpoint:  envOrDefault("PANEL_S3_ENDPOINT", fc.S3Endpoint),
		APIRate:     fc.APIRate,
		LogFile:     envOrDefault("PANEL_LOG_FILE", fc.LogFile),
		LogLevel:    envOrDefault("PANEL_LOG_LEVEL", or(fc.LogLevel, "info")),
	}

	if s := envOrDefault("PANEL_NOTIFY_INTERVAL", fc.NotifyInterval); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("PANEL_NOTIFY_INTERVAL: %w", err)
		}
		if d != 0 && d < time.Second {
			return nil, fmt.Errorf("PANEL_NOTIFY_INTERVAL: must be at least 1s, got %s", d)
		}
		c.NotifyInterval = d
	}
	if s := os.Getenv("PANEL_API_RATE"); s != "" {
		r, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("PANEL_API_RATE: %w", err)
		}
		c.APIRate = r
	}
	if c.APIRate < 0 {
		return nil, fmt.Errorf("PANEL_API_RATE: must not be negative")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if c.StateDir == "" {
			return fmt.Errorf("PANEL_STATE_DIR is required for %s storage", c.Storage)
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("PANEL_DATABASE_URL is required for postgres storage")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("PANEL_S3_BUCKET is required for s3 storage")
		}
	default:
		return fmt.Errorf("PANEL_STORAGE: unknown backend %q", c.Storage)
	}
	return nil
}

// SQLitePath is the database file used by sqlite storage.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.StateDir, "panel.db")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

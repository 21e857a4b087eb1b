// Package config loads pubsync configuration from an optional TOML file,
// an environment-specific overlay, and PUBSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/pubsync/pkg/database"
	"github.com/JaimeStill/pubsync/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvPubsyncEnv             = "PUBSYNC_ENV"
	EnvPubsyncShutdownTimeout = "PUBSYNC_SHUTDOWN_TIMEOUT"
	EnvPubsyncDrainInterval   = "PUBSYNC_DRAIN_INTERVAL"
	EnvPubsyncVersion         = "PUBSYNC_VERSION"
	EnvMetricsTextfile        = "PUBSYNC_METRICS_TEXTFILE"
)

var databaseEnv = &database.Env{
	Enabled:         "PUBSYNC_DB_ENABLED",
	URL:             "PUBSYNC_DB_URL",
	Host:            "PUBSYNC_DB_HOST",
	Port:            "PUBSYNC_DB_PORT",
	Name:            "PUBSYNC_DB_NAME",
	User:            "PUBSYNC_DB_USER",
	Password:        "PUBSYNC_DB_PASSWORD",
	SSLMode:         "PUBSYNC_DB_SSL_MODE",
	ApplicationName: "PUBSYNC_DB_APPLICATION_NAME",
	MaxOpenConns:    "PUBSYNC_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "PUBSYNC_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "PUBSYNC_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "PUBSYNC_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:         "PUBSYNC_STORAGE_PROVIDER",
	Bucket:           "PUBSYNC_STORAGE_BUCKET",
	Project:          "PUBSYNC_STORAGE_PROJECT",
	CredentialsFile:  "PUBSYNC_STORAGE_CREDENTIALS_FILE",
	ConnectionString: "PUBSYNC_STORAGE_CONNECTION_STRING",
	AccountURL:       "PUBSYNC_STORAGE_ACCOUNT_URL",
}

// MetricsConfig controls the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	// Textfile is the output path; empty disables metrics.
	Textfile string `toml:"textfile"`
}

// Config is the root configuration for a sync run.
type Config struct {
	Paths           PathsConfig     `toml:"paths"`
	Ensure          EnsureConfig    `toml:"ensure"`
	Upload          UploadConfig    `toml:"upload"`
	Storage         storage.Config  `toml:"storage"`
	Database        database.Config `toml:"database"`
	Metrics         MetricsConfig   `toml:"metrics"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	DrainInterval   string          `toml:"drain_interval"`
	Version         string          `toml:"version"`
}

// Env returns the PUBSYNC_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvPubsyncEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// DrainIntervalDuration returns DrainInterval as a time.Duration.
func (c *Config) DrainIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.DrainInterval)
	return d
}

// Load reads the base config, applies any environment overlay found next to
// it, and finalizes all values. An empty path means BaseConfigFile, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	base := path
	if base == "" {
		base = BaseConfigFile
	}

	loaded, err := load(base)
	switch {
	case err == nil:
		cfg = loaded
	case path == "" && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if overlay := overlayPath(filepath.Dir(base)); overlay != "" {
		o, err := load(overlay)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", overlay, err)
		}
		cfg.Merge(o)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.DrainInterval != "" {
		c.DrainInterval = overlay.DrainInterval
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if overlay.Metrics.Textfile != "" {
		c.Metrics.Textfile = overlay.Metrics.Textfile
	}
	c.Paths.Merge(&overlay.Paths)
	c.Ensure.Merge(&overlay.Ensure)
	c.Upload.Merge(&overlay.Upload)
	c.Storage.Merge(&overlay.Storage)
	c.Database.Merge(&overlay.Database)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Paths.Finalize(); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	if err := c.Ensure.Finalize(); err != nil {
		return fmt.Errorf("ensure: %w", err)
	}
	if err := c.Upload.Finalize(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.DrainInterval == "" {
		c.DrainInterval = "200ms"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvPubsyncShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvPubsyncDrainInterval); v != "" {
		c.DrainInterval = v
	}
	if v := os.Getenv(EnvPubsyncVersion); v != "" {
		c.Version = v
	}
	if v := os.Getenv(EnvMetricsTextfile); v != "" {
		c.Metrics.Textfile = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	d, err := time.ParseDuration(c.DrainInterval)
	if err != nil {
		return fmt.Errorf("invalid drain_interval: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("drain_interval must be positive")
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath(dir string) string {
	if env := os.Getenv(EnvPubsyncEnv); env != "" {
		path := filepath.Join(dir, fmt.Sprintf(OverlayConfigPattern, env))
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

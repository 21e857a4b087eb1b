package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvUploadWorkers     = "PUBSYNC_UPLOAD_WORKERS"
	EnvUploadMaxAttempts = "PUBSYNC_UPLOAD_MAX_ATTEMPTS"
)

// RootConfig rewrites local paths under Local into object keys under Key.
type RootConfig struct {
	Local string `toml:"local"`
	Key   string `toml:"key"`
}

// UploadConfig holds parameters for the object upload pool.
type UploadConfig struct {
	Workers        int          `toml:"workers"`
	MaxAttempts    int          `toml:"max_attempts"`
	BackoffInitial string       `toml:"backoff_initial"`
	BackoffMax     string       `toml:"backoff_max"`
	Roots          []RootConfig `toml:"roots"`
}

// BackoffInitialDuration returns BackoffInitial as a time.Duration.
func (c *UploadConfig) BackoffInitialDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffInitial)
	return d
}

// BackoffMaxDuration returns BackoffMax as a time.Duration.
func (c *UploadConfig) BackoffMaxDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffMax)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *UploadConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. A non-empty root list replaces the base list.
func (c *UploadConfig) Merge(overlay *UploadConfig) {
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BackoffInitial != "" {
		c.BackoffInitial = overlay.BackoffInitial
	}
	if overlay.BackoffMax != "" {
		c.BackoffMax = overlay.BackoffMax
	}
	if len(overlay.Roots) > 0 {
		c.Roots = overlay.Roots
	}
}

func (c *UploadConfig) loadDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffInitial == "" {
		c.BackoffInitial = "1s"
	}
	if c.BackoffMax == "" {
		c.BackoffMax = "60s"
	}
	if len(c.Roots) == 0 {
		c.Roots = []RootConfig{
			{Local: "/cache/", Key: ""},
			{Local: "/data/", Key: ""},
		}
	}
}

func (c *UploadConfig) loadEnv() {
	if v := os.Getenv(EnvUploadWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv(EnvUploadMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
}

func (c *UploadConfig) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if _, err := time.ParseDuration(c.BackoffInitial); err != nil {
		return fmt.Errorf("invalid backoff_initial: %w", err)
	}
	if _, err := time.ParseDuration(c.BackoffMax); err != nil {
		return fmt.Errorf("invalid backoff_max: %w", err)
	}
	for _, r := range c.Roots {
		if !strings.HasPrefix(r.Local, "/") || !strings.HasSuffix(r.Local, "/") {
			return fmt.Errorf("root %q must be absolute and end with /", r.Local)
		}
		if strings.HasPrefix(r.Key, "/") {
			return fmt.Errorf("root key prefix %q must not start with /", r.Key)
		}
	}
	return nil
}

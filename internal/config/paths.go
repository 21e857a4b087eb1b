package config

import (
	"fmt"
	"os"
	"path"
)

const (
	EnvFTPRoot     = "PUBSYNC_FTP_ROOT"
	EnvPSCacheRoot = "PUBSYNC_PS_CACHE_ROOT"
)

// PathsConfig locates the published source tree and the rendered artifact cache.
type PathsConfig struct {
	FTPRoot     string `toml:"ftp_root"`
	PSCacheRoot string `toml:"ps_cache_root"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *PathsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *PathsConfig) Merge(overlay *PathsConfig) {
	if overlay.FTPRoot != "" {
		c.FTPRoot = overlay.FTPRoot
	}
	if overlay.PSCacheRoot != "" {
		c.PSCacheRoot = overlay.PSCacheRoot
	}
}

func (c *PathsConfig) loadDefaults() {
	if c.FTPRoot == "" {
		c.FTPRoot = "/data/ftp"
	}
	if c.PSCacheRoot == "" {
		c.PSCacheRoot = "/cache/ps_cache"
	}
}

func (c *PathsConfig) loadEnv() {
	if v := os.Getenv(EnvFTPRoot); v != "" {
		c.FTPRoot = v
	}
	if v := os.Getenv(EnvPSCacheRoot); v != "" {
		c.PSCacheRoot = v
	}
}

func (c *PathsConfig) validate() error {
	if !path.IsAbs(c.FTPRoot) {
		return fmt.Errorf("ftp_root must be absolute: %q", c.FTPRoot)
	}
	if !path.IsAbs(c.PSCacheRoot) {
		return fmt.Errorf("ps_cache_root must be absolute: %q", c.PSCacheRoot)
	}
	return nil
}

package database

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"time"
)

var sslModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Config holds the ledger connection. ConnURL, when set, replaces the
// discrete host/port/name/user/password/ssl_mode fields.
type Config struct {
	Enabled         bool   `toml:"enabled"`
	ConnURL         string `toml:"url"`
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Name            string `toml:"name"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	SSLMode         string `toml:"ssl_mode"`
	ApplicationName string `toml:"application_name"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
	ConnTimeout     string `toml:"conn_timeout"`
}

// Env names the environment variables that override each field.
// Empty names are skipped.
type Env struct {
	Enabled         string
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	ApplicationName string
	MaxOpenConns    string
	MaxIdleConns    string
	ConnMaxLifetime string
	ConnTimeout     string
}

func (c *Config) ConnMaxLifetimeDuration() time.Duration {
	d, _ := time.ParseDuration(c.ConnMaxLifetime)
	return d
}

func (c *Config) ConnTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ConnTimeout)
	return d
}

// Dsn returns the string handed to the pgx driver: ConnURL verbatim, or a
// keyword/value string tagged with the application name so ledger sessions
// are identifiable in pg_stat_activity.
func (c *Config) Dsn() string {
	if c.ConnURL != "" {
		return c.ConnURL
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s application_name=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode, c.ApplicationName,
	)
}

// URL returns the connection as a postgres:// URL, the form golang-migrate
// expects.
func (c *Config) URL() string {
	if c.ConnURL != "" {
		return c.ConnURL
	}
	q := url.Values{"sslmode": {c.SSLMode}}
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites fields set in overlay. Enabled can only be switched on.
func (c *Config) Merge(overlay *Config) {
	c.Enabled = c.Enabled || overlay.Enabled
	for _, f := range c.stringFields(overlay) {
		if *f.src != "" {
			*f.dst = *f.src
		}
	}
	for _, f := range c.intFields(overlay) {
		if *f.src != 0 {
			*f.dst = *f.src
		}
	}
}

type field[T any] struct {
	env      string
	dst, src *T
}

// stringFields pairs each string field of c with its counterpart in o.
func (c *Config) stringFields(o *Config) []field[string] {
	return []field[string]{
		{dst: &c.ConnURL, src: &o.ConnURL},
		{dst: &c.Host, src: &o.Host},
		{dst: &c.Name, src: &o.Name},
		{dst: &c.User, src: &o.User},
		{dst: &c.Password, src: &o.Password},
		{dst: &c.SSLMode, src: &o.SSLMode},
		{dst: &c.ApplicationName, src: &o.ApplicationName},
		{dst: &c.ConnMaxLifetime, src: &o.ConnMaxLifetime},
		{dst: &c.ConnTimeout, src: &o.ConnTimeout},
	}
}

func (c *Config) intFields(o *Config) []field[int] {
	return []field[int]{
		{dst: &c.Port, src: &o.Port},
		{dst: &c.MaxOpenConns, src: &o.MaxOpenConns},
		{dst: &c.MaxIdleConns, src: &o.MaxIdleConns},
	}
}

func (c *Config) loadDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "pubsync"
	}
	// The ledger writes once per run.
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 1
	}
	if c.ConnMaxLifetime == "" {
		c.ConnMaxLifetime = "15m"
	}
	if c.ConnTimeout == "" {
		c.ConnTimeout = "5s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if v := lookup(env.Enabled); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enabled = b
		}
	}

	strs := []field[string]{
		{env: env.URL, dst: &c.ConnURL},
		{env: env.Host, dst: &c.Host},
		{env: env.Name, dst: &c.Name},
		{env: env.User, dst: &c.User},
		{env: env.Password, dst: &c.Password},
		{env: env.SSLMode, dst: &c.SSLMode},
		{env: env.ApplicationName, dst: &c.ApplicationName},
		{env: env.ConnMaxLifetime, dst: &c.ConnMaxLifetime},
		{env: env.ConnTimeout, dst: &c.ConnTimeout},
	}
	for _, f := range strs {
		if v := lookup(f.env); v != "" {
			*f.dst = v
		}
	}

	ints := []field[int]{
		{env: env.Port, dst: &c.Port},
		{env: env.MaxOpenConns, dst: &c.MaxOpenConns},
		{env: env.MaxIdleConns, dst: &c.MaxIdleConns},
	}
	for _, f := range ints {
		if v := lookup(f.env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*f.dst = n
			}
		}
	}
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ConnURL != "" {
		u, err := url.Parse(c.ConnURL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("url scheme %q is not postgres", u.Scheme)
		}
	} else {
		if c.Name == "" {
			return fmt.Errorf("name required")
		}
		if c.User == "" {
			return fmt.Errorf("user required")
		}
		if !slices.Contains(sslModes, c.SSLMode) {
			return fmt.Errorf("invalid ssl_mode %q", c.SSLMode)
		}
	}

	if _, err := time.ParseDuration(c.ConnMaxLifetime); err != nil {
		return fmt.Errorf("invalid conn_max_lifetime: %w", err)
	}
	if _, err := time.ParseDuration(c.ConnTimeout); err != nil {
		return fmt.Errorf("invalid conn_timeout: %w", err)
	}
	return nil
}

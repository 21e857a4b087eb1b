package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvEnsureHosts              = "PUBSYNC_ENSURE_HOSTS"
	EnvEnsureUserAgent          = "PUBSYNC_ENSURE_USER_AGENT"
	EnvEnsureInsecureSkipVerify = "PUBSYNC_ENSURE_INSECURE_SKIP_VERIFY"
	EnvEnsureMaxWait            = "PUBSYNC_ENSURE_MAX_WAIT"
	EnvEnsureMaxAttempts        = "PUBSYNC_ENSURE_MAX_ATTEMPTS"
	EnvEnsureRateLimit          = "PUBSYNC_ENSURE_RATE_LIMIT"
)

var defaultEnsureHosts = []HostConfig{
	{Name: "web5.arxiv.org", Workers: 3},
	{Name: "web6.arxiv.org", Workers: 3},
	{Name: "web7.arxiv.org", Workers: 3},
	{Name: "web8.arxiv.org", Workers: 3},
	{Name: "web9.arxiv.org", Workers: 3},
	{Name: "web10.arxiv.org", Workers: 3},
}

// HostConfig pins a number of build workers to one rendering host.
type HostConfig struct {
	Name    string `toml:"name"`
	Workers int    `toml:"workers"`
}

// EnsureConfig holds parameters for triggering and awaiting rendered artifacts.
type EnsureConfig struct {
	Hosts              []HostConfig `toml:"hosts"`
	UserAgent          string       `toml:"user_agent"`
	InsecureSkipVerify *bool        `toml:"insecure_skip_verify"`
	VerifyPDF          *bool        `toml:"verify_pdf"`
	MaxWait            string       `toml:"max_wait"`
	PollInterval       string       `toml:"poll_interval"`
	RequestTimeout     string       `toml:"request_timeout"`
	MaxAttempts        int          `toml:"max_attempts"`
	BackoffInitial     string       `toml:"backoff_initial"`
	BackoffMax         string       `toml:"backoff_max"`
	// RateLimit caps requests per second to each host; zero means unlimited.
	RateLimit float64 `toml:"rate_limit"`
}

// MaxWaitDuration returns MaxWait as a time.Duration.
func (c *EnsureConfig) MaxWaitDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxWait)
	return d
}

// PollIntervalDuration returns PollInterval as a time.Duration.
func (c *EnsureConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// RequestTimeoutDuration returns RequestTimeout as a time.Duration.
func (c *EnsureConfig) RequestTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}

// BackoffInitialDuration returns BackoffInitial as a time.Duration.
func (c *EnsureConfig) BackoffInitialDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffInitial)
	return d
}

// BackoffMaxDuration returns BackoffMax as a time.Duration.
func (c *EnsureConfig) BackoffMaxDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffMax)
	return d
}

// SkipVerify reports whether TLS certificate validation toward the hosts is disabled.
func (c *EnsureConfig) SkipVerify() bool {
	return c.InsecureSkipVerify != nil && *c.InsecureSkipVerify
}

// ValidatePDF reports whether polled artifacts must parse as PDF before they count as present.
func (c *EnsureConfig) ValidatePDF() bool {
	return c.VerifyPDF != nil && *c.VerifyPDF
}

// TotalWorkers sums the workers across all hosts.
func (c *EnsureConfig) TotalWorkers() int {
	n := 0
	for _, h := range c.Hosts {
		n += h.Workers
	}
	return n
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *EnsureConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. A non-empty host list replaces the base list.
func (c *EnsureConfig) Merge(overlay *EnsureConfig) {
	if len(overlay.Hosts) > 0 {
		c.Hosts = overlay.Hosts
	}
	if overlay.UserAgent != "" {
		c.UserAgent = overlay.UserAgent
	}
	if overlay.InsecureSkipVerify != nil {
		c.InsecureSkipVerify = overlay.InsecureSkipVerify
	}
	if overlay.VerifyPDF != nil {
		c.VerifyPDF = overlay.VerifyPDF
	}
	if overlay.MaxWait != "" {
		c.MaxWait = overlay.MaxWait
	}
	if overlay.PollInterval != "" {
		c.PollInterval = overlay.PollInterval
	}
	if overlay.RequestTimeout != "" {
		c.RequestTimeout = overlay.RequestTimeout
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
	if overlay.RateLimit != 0 {
		c.RateLimit = overlay.RateLimit
	}
}

func (c *EnsureConfig) loadDefaults() {
	if len(c.Hosts) == 0 {
		c.Hosts = append([]HostConfig(nil), defaultEnsureHosts...)
	}
	if c.UserAgent == "" {
		c.UserAgent = "periodic-rebuild"
	}
	if c.InsecureSkipVerify == nil {
		c.InsecureSkipVerify = boolPtr(true)
	}
	if c.VerifyPDF == nil {
		c.VerifyPDF = boolPtr(true)
	}
	if c.MaxWait == "" {
		c.MaxWait = "10m"
	}
	if c.PollInterval == "" {
		c.PollInterval = "200ms"
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = "5m"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial == "" {
		c.BackoffInitial = "1s"
	}
	if c.BackoffMax == "" {
		c.BackoffMax = "60s"
	}
}

func (c *EnsureConfig) loadEnv() {
	if v := os.Getenv(EnvEnsureHosts); v != "" {
		if hosts, err := ParseHosts(v); err == nil {
			c.Hosts = hosts
		}
	}
	if v := os.Getenv(EnvEnsureUserAgent); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv(EnvEnsureInsecureSkipVerify); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.InsecureSkipVerify = boolPtr(b)
		}
	}
	if v := os.Getenv(EnvEnsureMaxWait); v != "" {
		c.MaxWait = v
	}
	if v := os.Getenv(EnvEnsureMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvEnsureRateLimit); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit = f
		}
	}
}

func (c *EnsureConfig) validate() error {
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("host name required")
		}
		if h.Workers < 1 {
			return fmt.Errorf("host %s: workers must be at least 1", h.Name)
		}
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	for name, v := range map[string]string{
		"max_wait":        c.MaxWait,
		"poll_interval":   c.PollInterval,
		"request_timeout": c.RequestTimeout,
		"backoff_initial": c.BackoffInitial,
		"backoff_max":     c.BackoffMax,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// ParseHosts decodes a comma-separated list of host:workers pairs.
// A host without a worker count gets one worker.
func ParseHosts(s string) ([]HostConfig, error) {
	var hosts []HostConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count, found := strings.Cut(part, ":")
		h := HostConfig{Name: name, Workers: 1}
		if found {
			n, err := strconv.Atoi(count)
			if err != nil {
				return nil, fmt.Errorf("host %s: invalid worker count %q", name, count)
			}
			h.Workers = n
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts in %q", s)
	}
	return hosts, nil
}

func boolPtr(b bool) *bool {
	return &b
}

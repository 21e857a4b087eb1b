// Package ensure makes sure a rendered PDF exists in the local cache, asking
// a rendering host to build it when missing and waiting for it to appear.
package ensure

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/time/rate"

	"github.com/JaimeStill/pubsync/internal/config"
	"github.com/JaimeStill/pubsync/pkg/identifier"
	"github.com/JaimeStill/pubsync/pkg/retry"
)

// Status reports how an artifact came to be present.
type Status string

const (
	StatusAlreadyExists Status = "already_exists"
	StatusGenerated     Status = "generated"
)

// DefaultPollInterval is used when Options carries no poll interval.
const DefaultPollInterval = 200 * time.Millisecond

// Result describes a successfully ensured artifact.
type Result struct {
	Path     string
	URL      string
	Status   Status
	Attempts int
}

// Options configures an Ensurer.
type Options struct {
	CacheRoot      string
	UserAgent      string
	SkipVerify     bool
	VerifyPDF      bool
	MaxWait        time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Retry          retry.Policy
}

// OptionsFrom maps finalized ensure configuration onto Options.
func OptionsFrom(cfg *config.EnsureConfig, cacheRoot string) Options {
	return Options{
		CacheRoot:      cacheRoot,
		UserAgent:      cfg.UserAgent,
		SkipVerify:     cfg.SkipVerify(),
		VerifyPDF:      cfg.ValidatePDF(),
		MaxWait:        cfg.MaxWaitDuration(),
		PollInterval:   cfg.PollIntervalDuration(),
		RequestTimeout: cfg.RequestTimeoutDuration(),
		Retry: retry.Policy{
			Attempts: cfg.MaxAttempts,
			Initial:  cfg.BackoffInitialDuration(),
			Max:      cfg.BackoffMaxDuration(),
		},
	}
}

// Ensurer talks to a single rendering host. It owns its HTTP client and is
// not shared between workers.
type Ensurer struct {
	host    string
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates an Ensurer pinned to host. A nil limiter disables rate limiting.
func New(host string, opts Options, limiter *rate.Limiter, logger *slog.Logger) *Ensurer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipVerify}

	return &Ensurer{
		host: host,
		opts: opts,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.RequestTimeout,
		},
		limiter: limiter,
		logger:  logger.With("system", "ensure", "host", host),
	}
}

// Host returns the rendering host this Ensurer is pinned to.
func (e *Ensurer) Host() string {
	return e.host
}

// Close releases idle connections held by the Ensurer's client.
func (e *Ensurer) Close() {
	e.client.CloseIdleConnections()
}

// CachePath returns the cache location of id's rendered PDF under root.
func CachePath(root string, id identifier.Identifier) string {
	return filepath.Join(
		root,
		id.PathArchive(),
		"pdf",
		id.YearMonth,
		fmt.Sprintf("%sv%d.pdf", id.Filename, id.Version),
	)
}

// URL returns the render trigger for id on host. Legacy ids drop their
// archive prefix.
func URL(host string, id identifier.Identifier) string {
	return fmt.Sprintf("https://%s/pdf/%sv%d.pdf?nocdn=1", host, id.Filename, id.Version)
}

// Ensure returns once id's PDF is present in the cache. A cached artifact
// returns immediately without contacting the host. Otherwise the render is
// requested and the cache polled, the whole sequence retried on
// ErrEnsureFailed and network errors.
func (e *Ensurer) Ensure(ctx context.Context, id identifier.Identifier) (Result, error) {
	if !id.HasVersion() {
		return Result{}, fmt.Errorf("%w: %s", ErrUnversioned, id.ID)
	}

	res := Result{
		Path: CachePath(e.opts.CacheRoot, id),
		URL:  URL(e.host, id),
	}

	if exists(res.Path) {
		res.Status = StatusAlreadyExists
		return res, nil
	}

	policy := e.opts.Retry
	policy.Retryable = retryable
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.logger.Warn(
			"ensure attempt failed",
			"idv", id.IDV(),
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		res.Attempts++
		return e.attempt(ctx, res.Path, res.URL)
	})
	if err != nil {
		return res, err
	}

	res.Status = StatusGenerated
	return res, nil
}

func (e *Ensurer) attempt(ctx context.Context, path, target string) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	if err := e.request(ctx, target); err != nil {
		return err
	}

	return e.await(ctx, path, target)
}

func (e *Ensurer) request(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	e.logger.Debug("requesting render", "url", target)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET status %d %s", ErrEnsureFailed, resp.StatusCode, target)
	}
	return nil
}

// await polls for path until it is present or MaxWait elapses. A missing
// file between polls is expected and never an error by itself.
func (e *Ensurer) await(ctx context.Context, path, target string) error {
	deadline := time.Now().Add(e.opts.MaxWait)
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		if e.present(path) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %w: waited longer than %s for %s", ErrEnsureFailed, ErrTimedOut, e.opts.MaxWait, target)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// present reports whether path exists and, when VerifyPDF is set, parses as
// a PDF. A partially written file fails to parse and counts as absent.
func (e *Ensurer) present(path string) bool {
	if !exists(path) {
		return false
	}
	if !e.opts.VerifyPDF {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if _, err := api.PageCount(f, nil); err != nil {
		e.logger.Debug("cached pdf not yet readable", "path", path, "error", err)
		return false
	}
	return true
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func retryable(err error) bool {
	if errors.Is(err, ErrEnsureFailed) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JaimeStill/pubsync/internal/config"
	"github.com/JaimeStill/pubsync/pkg/retry"
	"github.com/JaimeStill/pubsync/pkg/storage"
)

// Status reports what an upload did.
type Status string

const (
	StatusAlreadyExists Status = "already_exists"
	StatusUploaded      Status = "uploaded"
)

// ErrUnmappedPath indicates a local path outside every configured root.
var ErrUnmappedPath = errors.New("path is outside recognized storage roots")

// Root rewrites local paths under Local to object keys under Key.
type Root struct {
	Local string
	Key   string
}

// Options configures an Uploader.
type Options struct {
	Roots []Root
	Retry retry.Policy
}

// OptionsFrom maps finalized upload configuration onto Options.
func OptionsFrom(cfg *config.UploadConfig) Options {
	roots := make([]Root, len(cfg.Roots))
	for i, r := range cfg.Roots {
		roots[i] = Root{Local: r.Local, Key: r.Key}
	}
	return Options{
		Roots: roots,
		Retry: retry.Policy{
			Attempts: cfg.MaxAttempts,
			Initial:  cfg.BackoffInitialDuration(),
			Max:      cfg.BackoffMaxDuration(),
		},
	}
}

// Result describes a completed upload.
type Result struct {
	Key      string
	URL      string
	Status   Status
	Bytes    int64
	Attempts int
}

// Uploader performs conditional uploads against one storage System.
// It is owned by a single worker.
type Uploader struct {
	store  storage.System
	opts   Options
	logger *slog.Logger
}

// New creates an Uploader over store.
func New(store storage.System, opts Options, logger *slog.Logger) *Uploader {
	return &Uploader{
		store:  store,
		opts:   opts,
		logger: logger.With("system", "upload"),
	}
}

// Key maps path to its object key using the first root whose Local prefix matches.
func Key(roots []Root, path string) (string, error) {
	for _, r := range roots {
		if rest, ok := strings.CutPrefix(path, r.Local); ok {
			return r.Key + rest, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnmappedPath, path)
}

// ContentType derives the object content type from path's extension.
// Unknown extensions return an empty string.
func ContentType(path string) string {
	switch filepath.Ext(path) {
	case ".pdf":
		return "application/pdf"
	case ".gz":
		return "application/gzip"
	case ".abs":
		return "text/plain"
	default:
		return ""
	}
}

// Upload copies the file at path to storage unless an object of the same
// size already exists at its key. Every failure except an unmappable path
// or key is retried.
func (u *Uploader) Upload(ctx context.Context, path string) (Result, error) {
	key, err := Key(u.opts.Roots, path)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Key: key,
		URL: u.store.URL(key),
	}

	policy := u.opts.Retry
	policy.Retryable = retryable
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		u.logger.Warn(
			"upload attempt failed",
			"key", key,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		res.Attempts++
		status, n, err := u.conditional(ctx, path, key)
		if err != nil {
			return err
		}
		res.Status, res.Bytes = status, n
		return nil
	})

	return res, err
}

func (u *Uploader) conditional(ctx context.Context, path, key string) (Status, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat local file: %w", err)
	}

	attrs, err := u.store.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == info.Size():
		u.logger.Debug("object already on remote", "key", key, "size", attrs.Size)
		return StatusAlreadyExists, 0, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return "", 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	if err := u.store.Upload(ctx, key, f, ContentType(path)); err != nil {
		return "", 0, err
	}

	u.logger.Debug("object uploaded", "key", key, "size", info.Size())
	return StatusUploaded, info.Size(), nil
}

func retryable(err error) bool {
	return !errors.Is(err, storage.ErrEmptyKey) && !errors.Is(err, storage.ErrInvalidKey)
}

// Package storage provides object storage operations with Google Cloud Storage
// and Azure Blob Storage implementations.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JaimeStill/pubsync/pkg/lifecycle"
)

// Attributes is the subset of object metadata the sync needs.
type Attributes struct {
	Size        int64
	ContentType string
}

// System manages object storage operations and lifecycle coordination.
// Implementations hold a stateful client; callers that work concurrently
// should open one System per worker.
type System interface {
	// Start registers a startup hook that verifies the bucket is reachable
	// with the configured credentials.
	Start(lc *lifecycle.Coordinator) error
	// Attributes returns metadata for the object at key.
	// Returns ErrNotFound if the object does not exist.
	Attributes(ctx context.Context, key string) (Attributes, error)
	// Upload streams data to the object at key with the specified content type.
	// An empty content type leaves the provider default.
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	// URL renders a human-readable location for key, used in reports.
	URL(key string) string
	// Close releases the underlying client.
	Close() error
}

// New creates a storage system for cfg.Provider.
// It constructs the client but does not contact the service until Start or
// the first operation.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (System, error) {
	logger = logger.With("system", "storage", "provider", cfg.Provider)

	switch cfg.Provider {
	case ProviderGCS:
		return newGCS(ctx, cfg, logger)
	case ProviderAzure:
		return newAzure(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JaimeStill/pubsync/pkg/lifecycle"
)

type googleStorage struct {
	client *gcs.Client
	bucket string
	logger *slog.Logger
}

func newGCS(ctx context.Context, cfg *Config, logger *slog.Logger) (System, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithQuotaProject(cfg.Project))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &googleStorage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

func (g *googleStorage) Start(lc *lifecycle.Coordinator) error {
	g.logger.Info("starting storage system", "bucket", g.bucket)

	lc.OnStartup(func() error {
		if _, err := g.client.Bucket(g.bucket).Attrs(lc.Context()); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
				return fmt.Errorf("storage credentials rejected for bucket %s: %w", g.bucket, err)
			}
			return fmt.Errorf("storage bucket %s unavailable: %w", g.bucket, err)
		}
		g.logger.Info("storage bucket ready", "bucket", g.bucket)
		return nil
	})

	return nil
}

func (g *googleStorage) Attributes(ctx context.Context, key string) (Attributes, error) {
	if err := validateKey(key); err != nil {
		return Attributes{}, err
	}

	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return Attributes{}, ErrNotFound
		}
		return Attributes{}, fmt.Errorf("object attributes %s: %w", key, err)
	}

	return Attributes{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

func (g *googleStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	// Cancelling the writer's context abandons the upload; Close would
	// commit whatever was copied so far.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(wctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, reader); err != nil {
		cancel()
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}

	return nil
}

func (g *googleStorage) URL(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, key)
}

func (g *googleStorage) Close() error {
	return g.client.Close()
}

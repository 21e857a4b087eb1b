package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/pubsync/internal/config"
	"github.com/JaimeStill/pubsync/internal/telemetry"
	"github.com/JaimeStill/pubsync/pkg/database"
	"github.com/JaimeStill/pubsync/pkg/lifecycle"
	"github.com/JaimeStill/pubsync/pkg/storage"
)

// Infrastructure holds the systems shared across a run.
// Database is nil when the ledger is disabled.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Storage   storage.System
	Database  database.System
	Metrics   *telemetry.Metrics

	storageCfg *storage.Config
}

// New creates an Infrastructure from cfg. Systems are constructed but not
// contacted; call Start, then Lifecycle.WaitForStartup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Infrastructure, error) {
	lc := lifecycle.New(ctx)

	store, err := storage.New(lc.Context(), &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	infra := &Infrastructure{
		Lifecycle:  lc,
		Logger:     logger,
		Storage:    store,
		Metrics:    telemetry.New(),
		storageCfg: &cfg.Storage,
	}

	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Database = db
	}

	return infra, nil
}

// Start registers startup checks and shutdown hooks. The storage check is
// what turns bad credentials into a fatal setup failure before any work.
func (i *Infrastructure) Start() error {
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	i.Lifecycle.OnShutdown(func() {
		<-i.Lifecycle.Context().Done()
		if err := i.Storage.Close(); err != nil {
			i.Logger.Error("storage close failed", "error", err)
		}
	})

	if i.Database != nil {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	}
	return nil
}

// OpenStore opens a fresh storage System for one worker so no client is
// shared between goroutines.
func (i *Infrastructure) OpenStore(ctx context.Context) (storage.System, error) {
	return storage.New(ctx, i.storageCfg, i.Logger)
}

// Package database opens the PostgreSQL pool backing the run ledger.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/pubsync/pkg/lifecycle"
	"github.com/JaimeStill/pubsync/pkg/retry"
)

// ErrNotReady indicates the database could not be reached during startup.
var ErrNotReady = errors.New("database not ready")

const (
	pingAttempts = 3
	pingBackoff  = 250 * time.Millisecond
)

// System owns a connection pool whose readiness is gated on lifecycle startup.
type System interface {
	Connection() *sql.DB
	// Start registers a retried startup ping and a shutdown close.
	Start(lc *lifecycle.Coordinator) error
}

type database struct {
	conn        *sql.DB
	logger      *slog.Logger
	connTimeout time.Duration
}

// New opens the pool without connecting; the first round trip happens in Start.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	db, err := sql.Open("pgx", cfg.Dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	return &database{
		conn:        db,
		logger:      logger.With("system", "database", "host", cfg.Host, "name", cfg.Name),
		connTimeout: cfg.ConnTimeoutDuration(),
	}, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) Start(lc *lifecycle.Coordinator) error {
	d.logger.Info("starting database connection")

	lc.OnStartup(func() error {
		policy := retry.Policy{
			Attempts: pingAttempts,
			Initial:  pingBackoff,
			Max:      d.connTimeout,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				d.logger.Warn("database ping failed", "attempt", attempt, "retry_in", wait, "error", err)
			},
		}

		err := retry.Do(lc.Context(), policy, func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, d.connTimeout)
			defer cancel()
			return d.conn.PingContext(pingCtx)
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}

		d.logger.Info("database connection established")
		return nil
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		stats := d.conn.Stats()
		if err := d.conn.Close(); err != nil {
			d.logger.Error("database close failed", "error", err)
			return
		}

		d.logger.Info("database connection closed",
			"open", stats.OpenConnections,
			"wait_count", stats.WaitCount,
			"wait_duration", stats.WaitDuration,
		)
	})

	return nil
}

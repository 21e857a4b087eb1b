package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/pubsync/internal/outcome"
	"github.com/JaimeStill/pubsync/pkg/repository"
)

// Run describes one invocation of the sync.
type Run struct {
	ID          uuid.UUID
	LogFile     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Submissions int
	Abandoned   int
	Interrupted bool
}

// Ledger writes runs and outcomes.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Ledger over db.
func New(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.With("system", "ledger"),
	}
}

const insertRun = `
	INSERT INTO sync_runs (id, log_file, started_at, finished_at, submissions, abandoned, interrupted)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

const insertOutcome = `
	INSERT INTO sync_outcomes (run_id, identifier_version, stage, status, duration_ms, detail, size_bytes)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Record stores run and its outcomes in one transaction. A zero run ID is
// replaced with a new random UUID, which is returned.
func (l *Ledger) Record(ctx context.Context, run Run, records []outcome.Record) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	id, err := repository.WithTx(ctx, l.db, func(tx *sql.Tx) (uuid.UUID, error) {
		id, err := repository.QueryOne(ctx, tx, insertRun, scanID,
			run.ID, run.LogFile, run.StartedAt, run.FinishedAt,
			run.Submissions, run.Abandoned, run.Interrupted,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert run: %w", err)
		}

		if _, err := repository.ExecEach(ctx, tx, insertOutcome, outcomeArgs(id, records)); err != nil {
			return uuid.Nil, fmt.Errorf("insert outcomes: %w", err)
		}
		return id, nil
	})
	if err != nil {
		return uuid.Nil, repository.MapError(err)
	}

	l.logger.Info("run recorded", "run_id", id, "outcomes", len(records))
	return id, nil
}

func outcomeArgs(runID uuid.UUID, records []outcome.Record) [][]any {
	args := make([][]any, len(records))
	for i, r := range records {
		var size sql.NullInt64
		if r.Size != nil {
			size = sql.NullInt64{Int64: *r.Size, Valid: true}
		}
		args[i] = []any{
			runID,
			r.IdentifierVersion,
			string(r.Stage),
			string(r.Status),
			r.DurationMs(),
			r.Detail,
			size,
		}
	}
	return args
}

func scanID(s repository.Scanner) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.Scan(&id)
	return id, err
}

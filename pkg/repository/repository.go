package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Preparer is implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Scanner abstracts row scanning.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc converts a Scanner into a typed value.
type ScanFunc[T any] func(Scanner) (T, error)

// WithTx runs fn inside a transaction, committing when fn succeeds and
// rolling back otherwise.
func WithTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// QueryOne scans the single row returned by query.
func QueryOne[T any](ctx context.Context, q Querier, query string, scan ScanFunc[T], args ...any) (T, error) {
	return scan(q.QueryRowContext(ctx, query, args...))
}

// ExecEach prepares query once and executes it for every argument set,
// failing if any execution affects no rows. It returns the rows affected.
func ExecEach(ctx context.Context, p Preparer, query string, argSets [][]any) (int64, error) {
	if len(argSets) == 0 {
		return 0, nil
	}

	stmt, err := p.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	var total int64
	for i, args := range argSets {
		result, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return total, fmt.Errorf("exec row %d: %w", i, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected row %d: %w", i, err)
		}
		if n == 0 {
			return total, fmt.Errorf("exec row %d: %w", i, sql.ErrNoRows)
		}
		total += n
	}
	return total, nil
}

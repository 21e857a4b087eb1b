package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgUndefinedTable      = "42P01"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrReference = errors.New("referenced record does not exist")
	// ErrSchema indicates a missing table, usually unapplied migrations.
	ErrSchema = errors.New("database schema not migrated")
)

// MapError translates driver errors into the package's sentinel errors,
// keeping the original error in the chain. Unrecognized errors are
// returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errors.Join(ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Join(ErrDuplicate, err)
		case pgForeignKeyViolation:
			return errors.Join(ErrReference, err)
		case pgUndefinedTable:
			return errors.Join(ErrSchema, err)
		}
	}

	return err
}

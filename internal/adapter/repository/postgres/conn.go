package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/schoolbilling/internal/domain"
)

// PostgreSQL error codes with a meaning for callers.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrCheckViolation       = "23514"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxPool is a querier that can start transactions.
type pgxPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// mapError translates driver errors into domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrDeadlock, pgErrSerializationFailure:
			return fmt.Errorf("%w: %s", domain.ErrConcurrency, pgErr.Message)
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrConcurrency, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		case pgErrCheckViolation:
			return fmt.Errorf("%w: %s", domain.ErrInconsistentRecord, pgErr.ConstraintName)
		}
	}

	return err
}

package datastore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConstraintViolation is returned when a write violates an integrity
	// constraint, such as the allowed values of a status column.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrUndefinedColumn is returned when a statement references a column
	// that does not exist, usually because a migration is pending.
	ErrUndefinedColumn = errors.New("undefined column")
)

// classifyError wraps known Postgres errors with the corresponding sentinel
// error while keeping the original error in the chain.
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
		return fmt.Errorf("%w: %s: %w", ErrConstraintViolation, pgErr.ConstraintName, err)
	case pgErr.Code == pgerrcode.UndefinedColumn:
		return fmt.Errorf("%w: %w", ErrUndefinedColumn, err)
	default:
		return err
	}
}

package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"bordereau/internal/domain/bsd"
)

// PostgreSQL error codes the store reacts to.
const (
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrSerializationFailed = "40001" // serialization_failure
	PgErrDeadlockDetected    = "40P01" // deadlock_detected
)

// classifyError maps driver failures onto the domain sentinels. Domain errors
// and everything unrecognized pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := bsd.AsError(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrSerializationFailed, PgErrDeadlockDetected:
			return bsd.TxConflict(err)
		case PgErrUniqueViolation:
			return bsd.Conflict("%s: %s", pgErr.ConstraintName, pgErr.Message)
		}
	}
	return err
}

// notFound turns gorm's missing-row error into a domain not-found error.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bsd.NotFound(what, id)
	}
	return classifyError(err)
}

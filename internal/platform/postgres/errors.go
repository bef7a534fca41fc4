package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/moments-api/internal/store"
)

const uniqueViolationCode = "23505"

// constraintErrors maps the integrity SQLSTATE codes the schema can raise to
// store sentinels. The describe func names the offending object.
var constraintErrors = map[string]struct {
	sentinel error
	describe func(*pgconn.PgError) string
}{
	uniqueViolationCode: {store.ErrDuplicate, func(e *pgconn.PgError) string { return "unique " + e.ConstraintName }},
	"23503":             {store.ErrInvalidEntity, func(e *pgconn.PgError) string { return "foreign key " + e.ConstraintName }},
	"23514":             {store.ErrInvalidEntity, func(e *pgconn.PgError) string { return "check " + e.ConstraintName }},
	"23502":             {store.ErrInvalidEntity, func(e *pgconn.PgError) string { return "not null " + e.ColumnName }},
}

// MapError translates driver errors into store sentinels. Both the sentinel
// and the driver error stay reachable through errors.Is and errors.As.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	mapping, ok := constraintErrors[pgErr.Code]
	if !ok {
		return err
	}
	return fmt.Errorf("%w (%s): %w", mapping.sentinel, mapping.describe(pgErr), err)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CheckRowsAffected returns notFound, or store.ErrNotFound when notFound is
// nil, if result touched no rows.
func CheckRowsAffected(result sql.Result, notFound error) error {
	if result == nil {
		return errors.New("no sql result to inspect")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if notFound == nil {
		return store.ErrNotFound
	}
	return notFound
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/rotor/id"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// exists reports whether a row with the given ID is present in table.
// Conditional updates that affect zero rows use it to tell "not found"
// apart from "found but in the wrong state". The table name is always a
// compile-time constant at call sites.
func (s *Store) exists(ctx context.Context, table string, rowID id.ID) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`,
		rowID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("rotor/postgres: check %s row: %w", table, err)
	}
	return found, nil
}

// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED entry claiming, a single-row lease table for
// leader election, row-locked atomic sections, embedded SQL migrations.
package postgres

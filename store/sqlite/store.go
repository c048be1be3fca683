package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/recurring"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ account.Store      = (*Store)(nil)
	_ account.UsageStore = (*Store)(nil)
	_ job.Store          = (*Store)(nil)
	_ queue.Store        = (*Store)(nil)
	_ cluster.Store      = (*Store)(nil)
	_ archive.Store      = (*Store)(nil)
	_ recurring.Store    = (*Store)(nil)
	_ event.Store        = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store on database/sql with
// the modernc.org/sqlite driver. SQLite has a single writer and no
// SKIP LOCKED, so the pool is pinned to one connection: claims run as
// one UPDATE statement and the atomic sections as plain transactions,
// which on the single connection cannot interleave.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens the database file at path, creating it if absent. The Store
// owns the handle and closes it on Close. An in-memory store is
// ":memory:".
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: open %s: %w", path, err)
	}

	// One connection: the claim and the read-modify-write sections rely
	// on serialized access, and SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("rotor/sqlite: %s: %w", pragma, err)
		}
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Migrate creates the schema. Every statement is idempotent, so running
// it on every start is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("rotor/sqlite: migrate: %w", err)
	}
	s.logger.Debug("applied schema")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error. The atomic sections (apply, finalize, job counters) use
// it for their read-modify-write; the single write connection stands in
// for row locks.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rotor/sqlite: commit tx: %w", err)
	}
	return nil
}

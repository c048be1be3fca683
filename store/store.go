package store

import (
	"context"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/recurring"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, sqlite, etc.) implements all of them so cross-entity
// operations like claim and finalize share one data store.
type Store interface {
	account.Store
	account.UsageStore
	job.Store
	queue.Store
	cluster.Store
	archive.Store
	recurring.Store
	event.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

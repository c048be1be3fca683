package mongostore

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/recurring"
)

// Collection names.
const (
	collAccounts   = "rotor_accounts"
	collUsage      = "rotor_usage"
	collJobs       = "rotor_jobs"
	collEntries    = "rotor_entries"
	collWorkers    = "rotor_workers"
	collLeadership = "rotor_leadership"
	collArchive    = "rotor_archive"
	collRecurring  = "rotor_recurring"
	collEvents     = "rotor_events"
	collCounters   = "rotor_counters"
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

// Store is a MongoDB implementation of store.Store. Single-document
// updates carry the atomic sections: the claim is one FindOneAndUpdate,
// the leadership lease is a guarded upsert on a singleton document, and
// the read-modify-write paths (apply, finalize, transitions) retry on a
// compare-and-swap filter instead of holding row locks. The caller owns
// the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongo.Database
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

// New creates a new MongoDB store on the given database handle. The
// caller owns the client lifecycle — the Store will not disconnect it on
// Close().
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *mongo.Database for advanced usage.
func (s *Store) DB() *mongo.Database {
	return s.db
}

// Migrate ensures the indexes the query paths rely on. Index creation is
// idempotent, so repeated runs are safe and either instance of a cluster
// can migrate.
func (s *Store) Migrate(ctx context.Context) error {
	for coll, indexes := range migrationIndexes() {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("rotor/mongo: ensure indexes on %s: %w", coll, err)
		}
		s.logger.Debug("ensured indexes", "collection", coll)
	}
	return nil
}

// migrationIndexes maps each collection to the indexes Migrate ensures.
// Collections absent from the map (the leadership singleton, the
// counters) are queried by _id only.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		collAccounts: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		collUsage: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "recorded_at", Value: -1}}},
			{Keys: bson.D{{Key: "recorded_at", Value: 1}}},
		},
		collJobs: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		collEntries: {
			// Claim scan: filter on status+held+not_before, order by
			// priority then age.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "held", Value: 1},
				{Key: "not_before", Value: 1},
				{Key: "priority", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
		collWorkers: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "last_seen", Value: 1}}},
			{Keys: bson.D{{Key: "is_leader", Value: 1}}},
		},
		collArchive: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
			{Keys: bson.D{{Key: "failed_at", Value: -1}}},
		},
		collRecurring: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "enabled", Value: 1}, {Key: "next_run_at", Value: 1}}},
		},
		collEvents: {
			{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

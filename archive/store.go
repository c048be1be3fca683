package archive

import (
	"context"
	"time"

	"github.com/xraph/rotor/id"
)

// ListOpts controls pagination and filtering for archive list queries.
type ListOpts struct {
	// Limit is the maximum number of records to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
	// JobID filters by originating job. Nil means all jobs.
	JobID id.JobID
}

// Store defines the persistence contract for archived entries.
type Store interface {
	// PushArchive persists a new archive record.
	PushArchive(ctx context.Context, rec *Record) error

	// GetArchive returns a record by ID, or rotor.ErrArchiveNotFound.
	GetArchive(ctx context.Context, archiveID id.ArchiveID) (*Record, error)

	// ListArchive returns records matching the options, newest first.
	ListArchive(ctx context.Context, opts ListOpts) ([]*Record, error)

	// MarkReplayed stamps a record as replayed.
	MarkReplayed(ctx context.Context, archiveID id.ArchiveID, at time.Time) error

	// PurgeArchive removes records that failed before the given time.
	// Returns the number removed.
	PurgeArchive(ctx context.Context, before time.Time) (int64, error)

	// CountArchive returns the total number of archive records.
	CountArchive(ctx context.Context) (int64, error)
}

package queue

import (
	"context"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
)

// Store is the persistence contract for queue entries.
//
// ClaimNext is the one operation requiring true mutual exclusion across
// concurrent callers: implementations use a storage-layer atomic
// primitive (row lock, compare-and-swap) and retry internal conflicts
// transparently rather than surfacing them.
type Store interface {
	// EnqueueEntries stores a batch of new entries.
	EnqueueEntries(ctx context.Context, entries []*Entry) error

	// GetEntry returns an entry by ID, or rotor.ErrEntryNotFound.
	GetEntry(ctx context.Context, entryID id.EntryID) (*Entry, error)

	// ListEntriesByJob returns all entries of a job, oldest first.
	ListEntriesByJob(ctx context.Context, jobID id.JobID) ([]*Entry, error)

	// ClaimNext atomically selects the highest-priority, oldest claimable
	// entry (queued, not held, retry gate passed), transitions it to
	// assigned under workerID, and returns it. Returns (nil, nil) when
	// nothing is claimable; an empty queue is not an error.
	ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*Entry, error)

	// MarkEntryProcessing transitions assigned → processing when the pool
	// accepts the entry, persisting the resolved account binding in the
	// same write. Fails when the entry is not assigned anymore (an orphan
	// sweep raced the handover).
	MarkEntryProcessing(ctx context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error

	// ReleaseEntry puts an assigned or processing entry back to queued
	// without consuming retry budget. A non-zero delay pushes the retry
	// gate out so the scheduler does not re-claim the entry in the same
	// scan.
	ReleaseEntry(ctx context.Context, entryID id.EntryID, delay time.Duration, now time.Time) error

	// FinalizeEntry applies one execution outcome (see ApplyFinalize) and
	// returns the updated entry. Finalizing an entry that is already
	// terminal is a no-op: the stored entry returns with applied=false so
	// callers do not double-count job outcomes. Unknown IDs fail loudly
	// with rotor.ErrEntryNotFound.
	FinalizeEntry(ctx context.Context, entryID id.EntryID, outcome rotor.Outcome, reason string, retryDelay time.Duration, now time.Time) (entry *Entry, applied bool, err error)

	// RequeueOrphans releases assigned or processing entries whose claim
	// is older than olderThan back to queued, and reports how many.
	// Recovery after a crash: orphaned claims must not strand work.
	RequeueOrphans(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)

	// HoldEntries excludes a job's queued entries from claiming. Pause.
	HoldEntries(ctx context.Context, jobID id.JobID) (int64, error)

	// UnholdEntries puts a job's held entries back in claimable state.
	UnholdEntries(ctx context.Context, jobID id.JobID) (int64, error)

	// CancelQueuedEntries terminally fails a job's queued entries with the
	// given reason. In-flight entries are left to finalize normally.
	CancelQueuedEntries(ctx context.Context, jobID id.JobID, reason string, now time.Time) (int64, error)

	// CountEntries returns entry counts by status.
	CountEntries(ctx context.Context) (map[Status]int, error)
}

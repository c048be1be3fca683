package recurring

import (
	"context"
	"time"

	"github.com/xraph/rotor/id"
)

// Store defines the persistence contract for recurring schedules.
type Store interface {
	// RegisterRecurring persists a new schedule, or
	// rotor.ErrRecurringExists when the name is taken.
	RegisterRecurring(ctx context.Context, sc *Schedule) error

	// GetRecurring returns a schedule by ID, or
	// rotor.ErrRecurringNotFound.
	GetRecurring(ctx context.Context, recurringID id.RecurringID) (*Schedule, error)

	// ListRecurring returns all schedules.
	ListRecurring(ctx context.Context) ([]*Schedule, error)

	// AcquireRecurringLock takes the firing lock for a schedule. True
	// when this worker holds it; the lock expires after ttl.
	AcquireRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error)

	// ReleaseRecurringLock drops the firing lock if held by this worker.
	ReleaseRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID) error

	// MarkRecurringRun records one firing and the next due time.
	MarkRecurringRun(ctx context.Context, recurringID id.RecurringID, ranAt, nextRun time.Time) error

	// UpdateRecurring persists administrative edits (enabled flag,
	// items, expression).
	UpdateRecurring(ctx context.Context, sc *Schedule) error

	// DeleteRecurring removes a schedule.
	DeleteRecurring(ctx context.Context, recurringID id.RecurringID) error
}

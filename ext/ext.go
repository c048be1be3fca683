// Package ext defines the extension system for Rotor.
// Extensions are notified of lifecycle events (job enqueued, entry
// assigned, account blocked, etc.) and can react to them — audit
// trails, metrics, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job and its entries are persisted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when the first entry of a job is claimed.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called when a job finalizes with at least one success.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job finalizes with zero successes.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job) error
}

// JobPaused is called when a job enters the paused side-state.
type JobPaused interface {
	OnJobPaused(ctx context.Context, j *job.Job) error
}

// JobResumed is called when a paused job returns to scheduling.
type JobResumed interface {
	OnJobResumed(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Entry lifecycle hooks
// ──────────────────────────────────────────────────

// EntryAssigned is called when an entry is claimed and bound to an
// account.
type EntryAssigned interface {
	OnEntryAssigned(ctx context.Context, e *queue.Entry, a *account.Account) error
}

// EntryCompleted is called after an entry finishes successfully.
type EntryCompleted interface {
	OnEntryCompleted(ctx context.Context, e *queue.Entry, elapsed time.Duration) error
}

// EntryFailed is called when an execution attempt fails. willRetry
// reports whether the entry went back to the queue.
type EntryFailed interface {
	OnEntryFailed(ctx context.Context, e *queue.Entry, willRetry bool, entryErr error) error
}

// EntryArchived is called when a terminally failed entry is copied to
// the archive.
type EntryArchived interface {
	OnEntryArchived(ctx context.Context, e *queue.Entry, reason string) error
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// AccountCooldown is called when consecutive failures put an account
// into a cooldown window.
type AccountCooldown interface {
	OnAccountCooldown(ctx context.Context, a *account.Account, until time.Time) error
}

// AccountBlocked is called when a rate-limit or authentication failure
// blocks an account.
type AccountBlocked interface {
	OnAccountBlocked(ctx context.Context, a *account.Account, until time.Time) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RecurringFired is called when a recurring schedule fires and submits
// a job.
type RecurringFired interface {
	OnRecurringFired(ctx context.Context, scheduleName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

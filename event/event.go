// Package event keeps a per-job feed of scheduling happenings: enqueued,
// started, entry outcomes, terminal transitions. The Feed extension
// appends them from lifecycle hooks; Watcher polls them back out for
// progress surfaces. The feed is observability, not bookkeeping: append
// failures are logged and dropped, never propagated.
package event

import (
	"time"

	"github.com/xraph/rotor/id"
)

// Name labels what happened.
type Name string

const (
	JobEnqueued    Name = "job.enqueued"
	JobStarted     Name = "job.started"
	JobCompleted   Name = "job.completed"
	JobFailed      Name = "job.failed"
	JobPaused      Name = "job.paused"
	JobResumed     Name = "job.resumed"
	EntryCompleted Name = "entry.completed"
	EntryFailed    Name = "entry.failed"
	EntryArchived  Name = "entry.archived"
)

// Event is one feed item. EntryID and AccountID are set for entry-level
// events only.
type Event struct {
	ID        id.EventID   `json:"id"`
	JobID     id.JobID     `json:"job_id"`
	TenantID  string       `json:"tenant_id"`
	Name      Name         `json:"name"`
	EntryID   id.EntryID   `json:"entry_id,omitempty"`
	AccountID id.AccountID `json:"account_id,omitempty"`

	// Detail is a short human-readable supplement: the error for
	// failures, the archive reason, counters for terminal transitions.
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

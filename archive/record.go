package archive

import (
	"time"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// Record preserves a queue entry that failed terminally: the work item,
// the final error, and enough of the original job's settings to replay
// it later.
type Record struct {
	ID       id.ArchiveID    `json:"id"`
	EntryID  id.EntryID      `json:"entry_id"`
	JobID    id.JobID        `json:"job_id"`
	JobName  string          `json:"job_name"`
	TenantID string          `json:"tenant_id"`
	JobType  account.JobType `json:"job_type"`

	// Payload is the raw work item at time of failure.
	Payload string `json:"payload"`

	// AccountID is the account the final attempt ran on.
	AccountID id.AccountID `json:"account_id,omitempty"`

	Reason     string           `json:"reason"`
	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
	Priority   int              `json:"priority"`
	Strategy   account.Strategy `json:"strategy,omitempty"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Replayed reports whether the record has already been replayed.
func (r *Record) Replayed() bool { return r.ReplayedAt != nil }

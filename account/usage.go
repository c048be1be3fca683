package account

import (
	"context"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
)

// UsageRecord is one append-only row per execution attempt. Usage feeds
// health derivation and rate windows and is pruned after a retention
// period by maintenance.
type UsageRecord struct {
	ID         id.UsageID    `json:"id"`
	AccountID  id.AccountID  `json:"account_id"`
	JobID      id.JobID      `json:"job_id"`
	EntryID    id.EntryID    `json:"entry_id"`
	TenantID   string        `json:"tenant_id"`
	Success    bool          `json:"success"`
	Class      rotor.Class   `json:"class,omitempty"`
	Latency    time.Duration `json:"latency"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// UsageStore is the append-only persistence contract for usage records.
type UsageStore interface {
	// AppendUsage stores one attempt record.
	AppendUsage(ctx context.Context, rec *UsageRecord) error

	// ListUsage returns records for an account recorded at or after since,
	// newest first, bounded by limit.
	ListUsage(ctx context.Context, accountID id.AccountID, since time.Time, limit int) ([]*UsageRecord, error)

	// PruneUsage deletes records older than the cutoff and reports how
	// many were removed.
	PruneUsage(ctx context.Context, olderThan time.Time) (int64, error)
}

package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/ext"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.JobEnqueued     = (*Extension)(nil)
	_ ext.JobStarted      = (*Extension)(nil)
	_ ext.JobCompleted    = (*Extension)(nil)
	_ ext.JobFailed       = (*Extension)(nil)
	_ ext.JobPaused       = (*Extension)(nil)
	_ ext.JobResumed      = (*Extension)(nil)
	_ ext.EntryAssigned   = (*Extension)(nil)
	_ ext.EntryCompleted  = (*Extension)(nil)
	_ ext.EntryFailed     = (*Extension)(nil)
	_ ext.EntryArchived   = (*Extension)(nil)
	_ ext.AccountCooldown = (*Extension)(nil)
	_ ext.AccountBlocked  = (*Extension)(nil)
	_ ext.RecurringFired  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package does not depend on any one
// audit system — callers inject their backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Rotor lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"tenant_id", j.TenantID,
		"job_type", string(j.Type),
		"total_items", j.Total,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"tenant_id", j.TenantID,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"tenant_id", j.TenantID,
		"successful", j.Successful,
		"failed", j.Failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"tenant_id", j.TenantID,
		"processed", j.Processed,
		"failed", j.Failed,
	)
}

// OnJobPaused implements ext.JobPaused.
func (e *Extension) OnJobPaused(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobPaused, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"tenant_id", j.TenantID,
	)
}

// OnJobResumed implements ext.JobResumed.
func (e *Extension) OnJobResumed(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobResumed, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"tenant_id", j.TenantID,
	)
}

// ── Entry lifecycle hooks ───────────────────────────

// OnEntryAssigned implements ext.EntryAssigned.
func (e *Extension) OnEntryAssigned(ctx context.Context, en *queue.Entry, a *account.Account) error {
	return e.record(ctx, ActionEntryAssigned, SeverityInfo, OutcomeSuccess,
		ResourceEntry, en.ID.String(), CategoryEntry, nil,
		"job_id", en.JobID.String(),
		"tenant_id", en.TenantID,
		"account_id", a.ID.String(),
		"worker_id", en.WorkerID.String(),
	)
}

// OnEntryCompleted implements ext.EntryCompleted.
func (e *Extension) OnEntryCompleted(ctx context.Context, en *queue.Entry, elapsed time.Duration) error {
	return e.record(ctx, ActionEntryCompleted, SeverityInfo, OutcomeSuccess,
		ResourceEntry, en.ID.String(), CategoryEntry, nil,
		"job_id", en.JobID.String(),
		"tenant_id", en.TenantID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnEntryFailed implements ext.EntryFailed. Failures that will retry are
// warnings; terminal ones are critical.
func (e *Extension) OnEntryFailed(ctx context.Context, en *queue.Entry, willRetry bool, entryErr error) error {
	severity := SeverityCritical
	if willRetry {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionEntryFailed, severity, OutcomeFailure,
		ResourceEntry, en.ID.String(), CategoryEntry, entryErr,
		"job_id", en.JobID.String(),
		"tenant_id", en.TenantID,
		"retry_count", en.RetryCount,
		"max_retries", en.MaxRetries,
		"will_retry", willRetry,
	)
}

// OnEntryArchived implements ext.EntryArchived.
func (e *Extension) OnEntryArchived(ctx context.Context, en *queue.Entry, reason string) error {
	return e.record(ctx, ActionEntryArchived, SeverityCritical, OutcomeFailure,
		ResourceEntry, en.ID.String(), CategoryEntry, nil,
		"job_id", en.JobID.String(),
		"tenant_id", en.TenantID,
		"reason", reason,
	)
}

// ── Account lifecycle hooks ─────────────────────────

// OnAccountCooldown implements ext.AccountCooldown.
func (e *Extension) OnAccountCooldown(ctx context.Context, a *account.Account, until time.Time) error {
	return e.record(ctx, ActionAccountCooldown, SeverityWarning, OutcomeFailure,
		ResourceAccount, a.ID.String(), CategoryAccount, nil,
		"tenant_id", a.TenantID,
		"label", a.Label,
		"consecutive_failures", a.ConsecutiveFailures,
		"until", until.Format(time.RFC3339),
	)
}

// OnAccountBlocked implements ext.AccountBlocked.
func (e *Extension) OnAccountBlocked(ctx context.Context, a *account.Account, until time.Time) error {
	return e.record(ctx, ActionAccountBlocked, SeverityCritical, OutcomeFailure,
		ResourceAccount, a.ID.String(), CategoryAccount, nil,
		"tenant_id", a.TenantID,
		"label", a.Label,
		"until", until.Format(time.RFC3339),
	)
}

// ── Recurring lifecycle hooks ───────────────────────

// OnRecurringFired implements ext.RecurringFired.
func (e *Extension) OnRecurringFired(ctx context.Context, scheduleName string, jobID id.JobID) error {
	return e.record(ctx, ActionRecurringFired, SeverityInfo, OutcomeSuccess,
		ResourceRecurring, scheduleName, CategoryRecurring, nil,
		"job_id", jobID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

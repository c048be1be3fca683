package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobPausedEntry struct {
	name string
	hook JobPaused
}

type jobResumedEntry struct {
	name string
	hook JobResumed
}

type entryAssignedEntry struct {
	name string
	hook EntryAssigned
}

type entryCompletedEntry struct {
	name string
	hook EntryCompleted
}

type entryFailedEntry struct {
	name string
	hook EntryFailed
}

type entryArchivedEntry struct {
	name string
	hook EntryArchived
}

type accountCooldownEntry struct {
	name string
	hook AccountCooldown
}

type accountBlockedEntry struct {
	name string
	hook AccountBlocked
}

type recurringFiredEntry struct {
	name string
	hook RecurringFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued     []jobEnqueuedEntry
	jobStarted      []jobStartedEntry
	jobCompleted    []jobCompletedEntry
	jobFailed       []jobFailedEntry
	jobPaused       []jobPausedEntry
	jobResumed      []jobResumedEntry
	entryAssigned   []entryAssignedEntry
	entryCompleted  []entryCompletedEntry
	entryFailed     []entryFailedEntry
	entryArchived   []entryArchivedEntry
	accountCooldown []accountCooldownEntry
	accountBlocked  []accountBlockedEntry
	recurringFired  []recurringFiredEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobPaused); ok {
		r.jobPaused = append(r.jobPaused, jobPausedEntry{name, h})
	}
	if h, ok := e.(JobResumed); ok {
		r.jobResumed = append(r.jobResumed, jobResumedEntry{name, h})
	}
	if h, ok := e.(EntryAssigned); ok {
		r.entryAssigned = append(r.entryAssigned, entryAssignedEntry{name, h})
	}
	if h, ok := e.(EntryCompleted); ok {
		r.entryCompleted = append(r.entryCompleted, entryCompletedEntry{name, h})
	}
	if h, ok := e.(EntryFailed); ok {
		r.entryFailed = append(r.entryFailed, entryFailedEntry{name, h})
	}
	if h, ok := e.(EntryArchived); ok {
		r.entryArchived = append(r.entryArchived, entryArchivedEntry{name, h})
	}
	if h, ok := e.(AccountCooldown); ok {
		r.accountCooldown = append(r.accountCooldown, accountCooldownEntry{name, h})
	}
	if h, ok := e.(AccountBlocked); ok {
		r.accountBlocked = append(r.accountBlocked, accountBlockedEntry{name, h})
	}
	if h, ok := e.(RecurringFired); ok {
		r.recurringFired = append(r.recurringFired, recurringFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobPaused notifies all extensions that implement JobPaused.
func (r *Registry) EmitJobPaused(ctx context.Context, j *job.Job) {
	for _, e := range r.jobPaused {
		if err := e.hook.OnJobPaused(ctx, j); err != nil {
			r.logHookError("OnJobPaused", e.name, err)
		}
	}
}

// EmitJobResumed notifies all extensions that implement JobResumed.
func (r *Registry) EmitJobResumed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobResumed {
		if err := e.hook.OnJobResumed(ctx, j); err != nil {
			r.logHookError("OnJobResumed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Entry event emitters
// ──────────────────────────────────────────────────

// EmitEntryAssigned notifies all extensions that implement EntryAssigned.
func (r *Registry) EmitEntryAssigned(ctx context.Context, e *queue.Entry, a *account.Account) {
	for _, x := range r.entryAssigned {
		if err := x.hook.OnEntryAssigned(ctx, e, a); err != nil {
			r.logHookError("OnEntryAssigned", x.name, err)
		}
	}
}

// EmitEntryCompleted notifies all extensions that implement EntryCompleted.
func (r *Registry) EmitEntryCompleted(ctx context.Context, e *queue.Entry, elapsed time.Duration) {
	for _, x := range r.entryCompleted {
		if err := x.hook.OnEntryCompleted(ctx, e, elapsed); err != nil {
			r.logHookError("OnEntryCompleted", x.name, err)
		}
	}
}

// EmitEntryFailed notifies all extensions that implement EntryFailed.
func (r *Registry) EmitEntryFailed(ctx context.Context, e *queue.Entry, willRetry bool, entryErr error) {
	for _, x := range r.entryFailed {
		if err := x.hook.OnEntryFailed(ctx, e, willRetry, entryErr); err != nil {
			r.logHookError("OnEntryFailed", x.name, err)
		}
	}
}

// EmitEntryArchived notifies all extensions that implement EntryArchived.
func (r *Registry) EmitEntryArchived(ctx context.Context, e *queue.Entry, reason string) {
	for _, x := range r.entryArchived {
		if err := x.hook.OnEntryArchived(ctx, e, reason); err != nil {
			r.logHookError("OnEntryArchived", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Account event emitters
// ──────────────────────────────────────────────────

// EmitAccountCooldown notifies all extensions that implement AccountCooldown.
func (r *Registry) EmitAccountCooldown(ctx context.Context, a *account.Account, until time.Time) {
	for _, e := range r.accountCooldown {
		if err := e.hook.OnAccountCooldown(ctx, a, until); err != nil {
			r.logHookError("OnAccountCooldown", e.name, err)
		}
	}
}

// EmitAccountBlocked notifies all extensions that implement AccountBlocked.
func (r *Registry) EmitAccountBlocked(ctx context.Context, a *account.Account, until time.Time) {
	for _, e := range r.accountBlocked {
		if err := e.hook.OnAccountBlocked(ctx, a, until); err != nil {
			r.logHookError("OnAccountBlocked", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitRecurringFired notifies all extensions that implement RecurringFired.
func (r *Registry) EmitRecurringFired(ctx context.Context, scheduleName string, jobID id.JobID) {
	for _, e := range r.recurringFired {
		if err := e.hook.OnRecurringFired(ctx, scheduleName, jobID); err != nil {
			r.logHookError("OnRecurringFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

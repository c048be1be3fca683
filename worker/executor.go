// Package worker bounds execution concurrency and supervises in-flight
// work: the Pool hands out slots, the Executor runs one entry on one
// account and settles every consequence of the outcome (account counters,
// entry finalization, job counters, archival, hooks).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/backoff"
	"github.com/xraph/rotor/ext"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/middleware"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/runner"
)

// DefaultHardTimeout caps a single execution. An execution that produces
// no outcome within this window is failed as transient and its slot
// reclaimed, whatever the handler is still doing.
const DefaultHardTimeout = 120 * time.Second

// Archiver stores terminally failed entries for inspection and replay.
type Archiver interface {
	ArchiveEntry(ctx context.Context, e *queue.Entry, reason string) error
}

// Executor runs one claimed entry against its resolved account and
// applies the outcome: account attempt recording, entry finalization
// with retry backoff, job counters, archival of terminal failures, and
// extension hooks.
type Executor struct {
	registry   *runner.Registry
	extensions *ext.Registry
	ledger     *account.Ledger
	entries    queue.Store
	jobs       job.Store
	logger     *slog.Logger

	backoff    backoff.Strategy
	archiver   Archiver
	middleware []middleware.Middleware
	timeout    time.Duration
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the retry delay strategy for requeued entries.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(x *Executor) { x.backoff = s }
}

// WithArchiver enables archival of terminally failed entries.
func WithArchiver(a Archiver) ExecutorOption {
	return func(x *Executor) { x.archiver = a }
}

// WithHardTimeout overrides the execution hard timeout.
func WithHardTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.timeout = d }
}

// WithMiddleware sets the middleware applied around every handler call,
// outermost first.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(x *Executor) { x.middleware = mws }
}

// WithExecutorClock injects the time source.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) { x.now = now }
}

// NewExecutor creates an Executor.
func NewExecutor(
	registry *runner.Registry,
	extensions *ext.Registry,
	ledger *account.Ledger,
	entries queue.Store,
	jobs job.Store,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	x := &Executor{
		registry:   registry,
		extensions: extensions,
		ledger:     ledger,
		entries:    entries,
		jobs:       jobs,
		logger:     logger,
		backoff:    backoff.Default(),
		timeout:    DefaultHardTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs one entry on one account, end to end. It never returns an
// error: every outcome, including infrastructure faults, is settled
// through the stores and logged.
func (x *Executor) Execute(ctx context.Context, e *queue.Entry, a *account.Account) {
	now := x.now()

	if err := x.entries.MarkEntryProcessing(ctx, e.ID, a.ID, now); err != nil {
		// An orphan sweep or cancellation took the entry between claim
		// and handover. Nothing was attempted, so nothing is recorded.
		x.logger.Warn("entry lost before processing",
			"entry_id", e.ID.String(),
			"job_id", e.JobID.String(),
			"error", err)
		return
	}
	e.Bind(a.ID)
	e.StartProcessing(now)

	// The request counter and spacing stamp move now, not at settlement:
	// the account stops being eligible the moment this request leaves,
	// so a second claim in the same tick cannot dispatch to it inside
	// MinDelay or past the daily limit. The attempt runs regardless of a
	// recording fault; leaving it unstamped only widens the gate.
	if _, err := x.ledger.RecordDispatch(ctx, a.ID); err != nil {
		x.logger.Error("dispatch recording failed",
			"entry_id", e.ID.String(),
			"account_id", a.ID.String(),
			"error", err)
	}

	x.extensions.EmitEntryAssigned(ctx, e, a)

	start := now
	execErr := x.run(ctx, e, a)
	elapsed := x.now().Sub(start)

	var outcome rotor.Outcome
	if execErr == nil {
		outcome = rotor.SuccessOutcome(elapsed)
	} else {
		outcome = rotor.FailureOutcome(rotor.Classify(execErr), elapsed)
	}

	x.settle(ctx, e, a, outcome, execErr)
}

// run invokes the handler through the middleware chain, bounded by the
// hard timeout. The handler runs on its own goroutine so a stuck handler
// cannot hold the worker slot past the timeout; it is left to notice the
// canceled context and die.
func (x *Executor) run(ctx context.Context, e *queue.Entry, a *account.Account) error {
	handler, ok := x.registry.Get(e.JobType)
	if !ok {
		return &rotor.PermanentError{Reason: fmt.Sprintf("no handler registered for job type %q", e.JobType)}
	}

	sess := runner.Session{
		TenantID:   e.TenantID,
		JobID:      e.JobID,
		EntryID:    e.ID,
		AccountID:  a.ID,
		Credential: a.Credential,
	}
	terminal := func(ctx context.Context) error {
		return handler(ctx, sess, e.Payload)
	}
	chained := middleware.Chain(x.middleware...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &rotor.TransientError{Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		done <- chained(runCtx, e, terminal)
	}()

	timer := time.NewTimer(x.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		cancel()
		return &rotor.TransientError{Err: fmt.Errorf("no outcome within %s", x.timeout)}
	case <-ctx.Done():
		cancel()
		return &rotor.TransientError{Err: ctx.Err()}
	}
}

// settle applies one outcome everywhere it matters, in dependency order:
// the account attempt first so escalation windows are in place before the
// entry can re-enter the queue, then the entry, then the job.
func (x *Executor) settle(ctx context.Context, e *queue.Entry, a *account.Account, outcome rotor.Outcome, execErr error) {
	// Bookkeeping must land even when the execution context was canceled
	// by a shutdown drain. Orphan recovery is the fallback, not the plan.
	ctx = context.WithoutCancel(ctx)
	now := x.now()

	if _, err := x.ledger.RecordAttempt(ctx, account.Attempt{
		AccountID: a.ID,
		JobID:     e.JobID,
		EntryID:   e.ID,
		TenantID:  e.TenantID,
		Outcome:   outcome,
	}); err != nil {
		x.logger.Error("attempt recording failed",
			"entry_id", e.ID.String(),
			"account_id", a.ID.String(),
			"error", err)
	}

	var delay time.Duration
	if !outcome.Success && outcome.Class != rotor.ClassPermanent {
		delay = x.backoff(e.RetryCount + 1)
	}
	reason := ""
	if execErr != nil {
		reason = execErr.Error()
	}

	final, applied, err := x.entries.FinalizeEntry(ctx, e.ID, outcome, reason, delay, now)
	if err != nil {
		x.logger.Error("entry finalization failed",
			"entry_id", e.ID.String(),
			"job_id", e.JobID.String(),
			"error", err)
		return
	}
	if !applied {
		// Someone else settled the entry first. Counting it again would
		// corrupt the job totals.
		x.logger.Warn("entry already finalized, outcome dropped",
			"entry_id", e.ID.String(),
			"status", string(final.Status))
		return
	}

	switch {
	case outcome.Success:
		x.extensions.EmitEntryCompleted(ctx, final, outcome.Latency)
	case final.Status == queue.StatusQueued:
		x.logger.Info("entry requeued for retry",
			"entry_id", final.ID.String(),
			"job_id", final.JobID.String(),
			"retry_count", final.RetryCount,
			"max_retries", final.MaxRetries,
			"delay", delay,
			"error", reason)
		x.extensions.EmitEntryFailed(ctx, final, true, execErr)
	default:
		x.logger.Warn("entry failed terminally",
			"entry_id", final.ID.String(),
			"job_id", final.JobID.String(),
			"retry_count", final.RetryCount,
			"class", string(outcome.Class),
			"error", reason)
		x.extensions.EmitEntryFailed(ctx, final, false, execErr)
		x.archive(ctx, final, reason)
	}

	if final.Status.Terminal() {
		x.settleJob(ctx, final, outcome.Success, now)
	}
}

func (x *Executor) archive(ctx context.Context, e *queue.Entry, reason string) {
	if x.archiver == nil {
		return
	}
	if err := x.archiver.ArchiveEntry(ctx, e, reason); err != nil {
		x.logger.Error("entry archival failed",
			"entry_id", e.ID.String(),
			"error", err)
		return
	}
	x.extensions.EmitEntryArchived(ctx, e, reason)
}

// settleJob counts one terminal entry on the job and announces the
// job-level transition when this was the last open entry.
func (x *Executor) settleJob(ctx context.Context, e *queue.Entry, success bool, now time.Time) {
	j, err := x.jobs.RecordEntryOutcome(ctx, e.JobID, success, now)
	if err != nil {
		x.logger.Error("job outcome recording failed",
			"job_id", e.JobID.String(),
			"entry_id", e.ID.String(),
			"error", err)
		return
	}

	switch j.Status {
	case job.StatusCompleted:
		var jobElapsed time.Duration
		if j.StartedAt != nil {
			jobElapsed = now.Sub(*j.StartedAt)
		}
		x.logger.Info("job completed",
			"job_id", j.ID.String(),
			"tenant_id", j.TenantID,
			"successful", j.Successful,
			"failed", j.Failed,
			"elapsed", jobElapsed)
		x.extensions.EmitJobCompleted(ctx, j, jobElapsed)
	case job.StatusFailed:
		x.logger.Warn("job failed",
			"job_id", j.ID.String(),
			"tenant_id", j.TenantID,
			"failed", j.Failed)
		x.extensions.EmitJobFailed(ctx, j)
	}
}

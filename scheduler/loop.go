// Package scheduler drives forward progress: a single loop claims queue
// entries, pairs each with an eligible account, and hands the pair to
// the worker pool. It never executes work itself and never blocks on an
// execution.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/ext"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

const (
	// DefaultPollInterval is how often the loop scans without a wake.
	DefaultPollInterval = 5 * time.Second
	// DefaultClaimBatch bounds how many entries one tick examines, so a
	// run of unservable entries cannot starve other tenants.
	DefaultClaimBatch = 10
	// DefaultOrphanAge is the claim age past which an assigned or
	// processing entry counts as abandoned.
	DefaultOrphanAge = 4 * time.Minute
	// DefaultOrphanInterval is the sweep cadence for orphaned entries.
	DefaultOrphanInterval = 30 * time.Second

	// maxDefer caps how long an unservable entry is pushed out. The wait
	// hint can be up to the selection horizon, but accounts created or
	// validated in the meantime should not leave the entry sleeping that
	// long.
	maxDefer = time.Minute
)

// Pool is the slice of the worker pool the loop needs.
type Pool interface {
	// Free returns a snapshot of open slots.
	Free() int
	// Submit hands an entry with its resolved account to a slot.
	Submit(ctx context.Context, e *queue.Entry, a *account.Account) error
}

// LeaderCheck gates maintenance work in a multi-instance deployment.
// Claiming is safe everywhere; sweeps run on the leader only.
type LeaderCheck func() bool

// Loop is the scheduler. One per process; safe to run alongside other
// processes sharing the same store because claiming is atomic.
type Loop struct {
	entries    queue.Store
	jobs       job.Store
	selector   *account.Selector
	pool       Pool
	extensions *ext.Registry
	logger     *slog.Logger

	workerID       id.WorkerID
	pollInterval   time.Duration
	claimBatch     int
	orphanAge      time.Duration
	orphanInterval time.Duration
	leader         LeaderCheck
	now            func() time.Time

	wakeCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Loop.
type Option func(*Loop)

// WithWorkerID sets the identity used for claims. It must match the
// worker pool's, so orphan attribution and claims line up.
func WithWorkerID(workerID id.WorkerID) Option {
	return func(l *Loop) { l.workerID = workerID }
}

// WithPollInterval sets the scan interval used when no wake arrives.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithClaimBatch bounds the per-tick entry scan.
func WithClaimBatch(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.claimBatch = n
		}
	}
}

// WithOrphanAge sets the claim age past which entries are requeued.
func WithOrphanAge(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.orphanAge = d
		}
	}
}

// WithOrphanInterval sets the orphan sweep cadence.
func WithOrphanInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.orphanInterval = d
		}
	}
}

// WithExtensions sets the hook registry for job lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(l *Loop) { l.extensions = r }
}

// WithLeaderCheck gates orphan sweeps on cluster leadership.
func WithLeaderCheck(check LeaderCheck) Option {
	return func(l *Loop) { l.leader = check }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// NewLoop creates a scheduler loop.
func NewLoop(entries queue.Store, jobs job.Store, selector *account.Selector, pool Pool, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		entries:        entries,
		jobs:           jobs,
		selector:       selector,
		pool:           pool,
		logger:         logger,
		workerID:       id.NewWorkerID(),
		pollInterval:   DefaultPollInterval,
		claimBatch:     DefaultClaimBatch,
		orphanAge:      DefaultOrphanAge,
		orphanInterval: DefaultOrphanInterval,
		now:            time.Now,
		wakeCh:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.extensions == nil {
		l.extensions = ext.NewRegistry(logger)
	}
	return l
}

// WorkerID returns the claim identity.
func (l *Loop) WorkerID() id.WorkerID { return l.workerID }

// Wake nudges the loop to scan now instead of at the next poll tick.
// Non-blocking; a pending wake coalesces with new ones.
func (l *Loop) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Start brings the loop up. Idempotent.
func (l *Loop) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	l.running = true
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go l.run()

	l.logger.Info("scheduler started",
		"worker_id", l.workerID.String(),
		"poll_interval", l.pollInterval,
		"claim_batch", l.claimBatch)
	return nil
}

// Stop halts claiming. In-flight executions belong to the pool and are
// drained there. Idempotent.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer l.wg.Done()
	ctx := context.Background()

	// Claims from a previous life of this process are orphans now.
	l.sweepOrphans(ctx)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	orphans := time.NewTicker(l.orphanInterval)
	defer orphans.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.wakeCh:
			l.tick(ctx)
		case <-ticker.C:
			l.tick(ctx)
		case <-orphans.C:
			l.sweepOrphans(ctx)
		}
	}
}

// tick claims and dispatches until the pool is full, the queue has
// nothing claimable, or the batch bound is hit.
func (l *Loop) tick(ctx context.Context) {
	for range l.claimBatch {
		if l.pool.Free() <= 0 {
			return
		}
		e, err := l.entries.ClaimNext(ctx, l.workerID, l.now())
		if err != nil {
			l.logger.Error("claim failed", "error", err)
			return
		}
		if e == nil {
			return
		}
		if !l.dispatch(ctx, e) {
			return
		}
	}
}

// dispatch resolves an account for one claimed entry and submits it.
// Returns false when the tick should stop scanning.
func (l *Loop) dispatch(ctx context.Context, e *queue.Entry) bool {
	j, err := l.jobs.GetJob(ctx, e.JobID)
	if err != nil {
		l.logger.Error("job lookup failed",
			"entry_id", e.ID.String(),
			"job_id", e.JobID.String(),
			"error", err)
		l.release(ctx, e, 0)
		return true
	}

	switch {
	case j.Status.Terminal():
		// The job was canceled or finished while this entry sat claimed.
		// Fail the entry the way a queued cancellation would have; the
		// job's counters are frozen.
		out := rotor.FailureOutcome(rotor.ClassPermanent, 0)
		if _, _, err := l.entries.FinalizeEntry(ctx, e.ID, out, "job "+string(j.Status), 0, l.now()); err != nil {
			l.logger.Error("entry cancellation failed",
				"entry_id", e.ID.String(),
				"error", err)
		}
		return true
	case j.Status == job.StatusPaused:
		// Claimed before the pause landed. Put it back and hold it with
		// its siblings.
		l.release(ctx, e, 0)
		if _, err := l.entries.HoldEntries(ctx, j.ID); err != nil {
			l.logger.Error("entry hold failed",
				"job_id", j.ID.String(),
				"error", err)
		}
		return true
	}

	a, err := l.selector.Select(ctx, e.TenantID, e.JobType, j.Strategy)
	if err != nil {
		l.releaseUnservable(ctx, e, err)
		return true
	}

	if j.Status == job.StatusPending {
		if err := l.jobs.MarkJobRunning(ctx, j.ID, l.now()); err != nil {
			l.logger.Error("job start transition failed",
				"job_id", j.ID.String(),
				"error", err)
		} else {
			_ = j.MarkRunning(l.now())
			l.extensions.EmitJobStarted(ctx, j)
		}
	}

	err = l.pool.Submit(ctx, e, a)
	switch {
	case err == nil:
		return true
	case errors.Is(err, rotor.ErrTenantThrottled):
		l.logger.Debug("tenant dispatch throttled",
			"tenant_id", e.TenantID,
			"entry_id", e.ID.String())
		l.release(ctx, e, l.pollInterval)
		return true
	case errors.Is(err, rotor.ErrPoolSaturated):
		l.release(ctx, e, 0)
		return false
	default:
		l.release(ctx, e, 0)
		return false
	}
}

// releaseUnservable puts an entry with no usable account back, pushed
// out far enough that the next scans are not burned re-claiming it.
func (l *Loop) releaseUnservable(ctx context.Context, e *queue.Entry, selErr error) {
	var wait *rotor.WaitError
	switch {
	case errors.As(selErr, &wait):
		l.logger.Debug("no account eligible yet",
			"tenant_id", e.TenantID,
			"entry_id", e.ID.String(),
			"retry_after", wait.RetryAfter)
		l.release(ctx, e, min(wait.RetryAfter, maxDefer))
	case errors.Is(selErr, rotor.ErrNoEligibleAccount):
		l.logger.Warn("no account available",
			"tenant_id", e.TenantID,
			"job_type", string(e.JobType),
			"entry_id", e.ID.String())
		l.release(ctx, e, maxDefer)
	default:
		l.logger.Error("account selection failed",
			"tenant_id", e.TenantID,
			"entry_id", e.ID.String(),
			"error", selErr)
		l.release(ctx, e, 0)
	}
}

func (l *Loop) release(ctx context.Context, e *queue.Entry, delay time.Duration) {
	if err := l.entries.ReleaseEntry(ctx, e.ID, delay, l.now()); err != nil {
		l.logger.Error("entry release failed",
			"entry_id", e.ID.String(),
			"error", err)
	}
}

// sweepOrphans requeues entries whose claim outlived its worker. Runs on
// the leader only when a leader check is wired: every instance sweeping
// is redundant, not wrong.
func (l *Loop) sweepOrphans(ctx context.Context) {
	if l.leader != nil && !l.leader() {
		return
	}
	n, err := l.entries.RequeueOrphans(ctx, l.orphanAge, l.now())
	if err != nil {
		l.logger.Error("orphan requeue failed", "error", err)
		return
	}
	if n > 0 {
		l.logger.Warn("requeued orphaned entries", "count", n)
		l.Wake()
	}
}

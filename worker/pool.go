package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/queue"
)

// DefaultConcurrency is the global ceiling on concurrently executing
// entries. It is shared across all tenants: the point is to cap total
// external load, not to be fair.
const DefaultConcurrency = 5

// Heartbeater refreshes this instance's worker registration so other
// instances can tell a live worker from a dead one. cluster.Store
// satisfies it.
type Heartbeater interface {
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error
}

// Pool bounds execution concurrency. The scheduler submits claimed
// entries; the pool either takes one onto a free slot and runs it on its
// own goroutine, or rejects it so the entry goes back to the queue.
type Pool struct {
	executor *Executor
	logger   *slog.Logger

	workerID    id.WorkerID
	concurrency int
	slots       *semaphore.Weighted
	inFlight    atomic.Int64

	throttle          *queue.Manager
	hearts            Heartbeater
	heartbeatInterval time.Duration
	wake              func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker slots.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPoolWorkerID sets this instance's worker identity. The scheduler
// claiming on behalf of this pool must use the same ID.
func WithPoolWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// WithThrottle applies per-tenant dispatch limits on top of the global
// slot ceiling.
func WithThrottle(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.throttle = m }
}

// WithHeartbeat enables periodic worker registration refresh.
func WithHeartbeat(h Heartbeater, interval time.Duration) PoolOption {
	return func(p *Pool) {
		p.hearts = h
		if interval > 0 {
			p.heartbeatInterval = interval
		}
	}
}

// WithWake registers a callback fired whenever a slot frees up, so the
// scheduler can claim the next entry immediately instead of waiting for
// its poll tick.
func WithWake(wake func()) PoolOption {
	return func(p *Pool) { p.wake = wake }
}

// NewPool creates a worker pool around the given executor.
func NewPool(executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:          executor,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		concurrency:       DefaultConcurrency,
		heartbeatInterval: 10 * time.Second,
		active:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.slots = semaphore.NewWeighted(int64(p.concurrency))
	return p
}

// WorkerID returns this pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Concurrency returns the slot ceiling.
func (p *Pool) Concurrency() int { return p.concurrency }

// InFlight returns the number of currently executing entries.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Free returns the number of open slots. It is a snapshot: Submit can
// still fail with ErrPoolSaturated when racing other submitters.
func (p *Pool) Free() int {
	free := p.concurrency - int(p.inFlight.Load())
	if free < 0 {
		return 0
	}
	return free
}

// Start brings the pool up. Idempotent.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	if p.hearts != nil {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	p.logger.Info("worker pool started",
		"worker_id", p.workerID.String(),
		"concurrency", p.concurrency)
	return nil
}

// Stop drains the pool: no new submissions are accepted, in-flight
// executions get until ctx expires to finish, then are canceled.
// Idempotent.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out, canceling in-flight executions")
		p.cancelActive()
		return ctx.Err()
	}
}

// Submit hands one claimed entry with its resolved account to a free
// slot. ErrPoolSaturated when every slot is busy, ErrTenantThrottled
// when the tenant's dispatch limit rejects it, ErrPoolStopped after
// Stop. On any error the entry is untouched and stays with the caller.
func (p *Pool) Submit(ctx context.Context, e *queue.Entry, a *account.Account) error {
	// Admission happens under the lifecycle lock so a Submit racing Stop
	// either lands inside the drain or is refused, never half-admitted.
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return rotor.ErrPoolStopped
	}
	if !p.slots.TryAcquire(1) {
		p.mu.Unlock()
		return rotor.ErrPoolSaturated
	}
	if p.throttle != nil && !p.throttle.Acquire(e.TenantID) {
		p.slots.Release(1)
		p.mu.Unlock()
		return rotor.ErrTenantThrottled
	}

	// Executions outlive the submission context on purpose: shutdown
	// drains them via Stop, not via the scheduler's context.
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.register(e.ID.String(), cancel)
	p.inFlight.Add(1)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			p.unregister(e.ID.String())
			cancel()
			if p.throttle != nil {
				p.throttle.Release(e.TenantID)
			}
			p.slots.Release(1)
			p.inFlight.Add(-1)
			p.wg.Done()
			if p.wake != nil {
				p.wake()
			}
		}()
		p.executor.Execute(execCtx, e, a)
	}()
	return nil
}

func (p *Pool) register(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) unregister(key string) {
	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("canceling execution", "entry_id", key)
		cancel()
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.hearts.HeartbeatWorker(ctx, p.workerID, time.Now()); err != nil {
				p.logger.Warn("heartbeat failed",
					"worker_id", p.workerID.String(),
					"error", err)
			}
			cancel()
		}
	}
}

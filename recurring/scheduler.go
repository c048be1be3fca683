package recurring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/rotor/id"
)

const (
	// DefaultTickInterval is how often due schedules are evaluated.
	// Scrape schedules are hourly or coarser; a sub-minute tick buys
	// nothing.
	DefaultTickInterval = 30 * time.Second
	// DefaultLockTTL bounds how long a firing may hold its lock.
	DefaultLockTTL = 30 * time.Second
)

// SubmitFunc submits one job for a due schedule. The engine provides
// the implementation; the indirection keeps this package from importing
// it.
type SubmitFunc func(ctx context.Context, sc *Schedule) (id.JobID, error)

// Emitter announces firings. ext.Registry satisfies this.
type Emitter interface {
	EmitRecurringFired(ctx context.Context, scheduleName string, jobID id.JobID)
}

// LeaderCheck gates ticking in a multi-instance deployment.
type LeaderCheck func() bool

// Scheduler evaluates schedules on a tick loop and fires the due ones.
// Only the leader ticks; the per-schedule lock covers leader handover
// races.
type Scheduler struct {
	store    Store
	submit   SubmitFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	leader       LeaderCheck
	now          func() time.Time

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets the due-schedule evaluation cadence.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithLockTTL sets the per-schedule firing lock TTL.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithLeaderCheck gates ticks on cluster leadership.
func WithLeaderCheck(check LeaderCheck) SchedulerOption {
	return func(s *Scheduler) { s.leader = check }
}

// WithEmitter sets the firing announcer.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithSchedulerClock injects the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a recurring scheduler.
func NewScheduler(store Store, submit SubmitFunc, workerID id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		submit:       submit,
		workerID:     workerID,
		logger:       logger,
		tickInterval: DefaultTickInterval,
		lockTTL:      DefaultLockTTL,
		now:          time.Now,
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("recurring scheduler started",
		"worker_id", s.workerID.String(),
		"tick_interval", s.tickInterval)
	return nil
}

// Stop halts the tick loop. Idempotent.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("recurring scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	if s.leader != nil && !s.leader() {
		return
	}
	ctx := context.Background()

	schedules, err := s.store.ListRecurring(ctx)
	if err != nil {
		s.logger.Error("recurring list failed", "error", err)
		return
	}

	now := s.now()
	for _, sc := range schedules {
		if sc.Due(now) {
			s.fire(ctx, sc, now)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, sc *Schedule, now time.Time) {
	acquired, err := s.store.AcquireRecurringLock(ctx, sc.ID, s.workerID, s.lockTTL, now)
	if err != nil {
		s.logger.Error("recurring lock error",
			"recurring_id", sc.ID.String(),
			"error", err)
		return
	}
	if !acquired {
		return
	}
	defer s.releaseLock(ctx, sc.ID)

	sched, err := s.getOrParse(sc.Expr)
	if err != nil {
		// A schedule whose expression no longer parses would refire
		// every tick forever. Switch it off and say so loudly.
		s.logger.Error("recurring expression invalid, disabling",
			"recurring_name", sc.Name,
			"expr", sc.Expr,
			"error", err)
		sc.Enabled = false
		if updateErr := s.store.UpdateRecurring(ctx, sc); updateErr != nil {
			s.logger.Error("recurring disable failed",
				"recurring_id", sc.ID.String(),
				"error", updateErr)
		}
		return
	}

	jobID, err := s.submit(ctx, sc)
	if err != nil {
		s.logger.Error("recurring submit failed",
			"recurring_name", sc.Name,
			"tenant_id", sc.TenantID,
			"error", err)
		return
	}

	next := sched.Next(now)
	if err := s.store.MarkRecurringRun(ctx, sc.ID, now, next); err != nil {
		s.logger.Error("recurring run mark failed",
			"recurring_id", sc.ID.String(),
			"error", err)
	}

	if s.emitter != nil {
		s.emitter.EmitRecurringFired(ctx, sc.Name, jobID)
	}
	s.logger.Info("recurring fired",
		"recurring_name", sc.Name,
		"tenant_id", sc.TenantID,
		"job_id", jobID.String(),
		"next_run", next)
}

func (s *Scheduler) releaseLock(ctx context.Context, recurringID id.RecurringID) {
	if err := s.store.ReleaseRecurringLock(ctx, recurringID, s.workerID); err != nil {
		s.logger.Error("recurring lock release failed",
			"recurring_id", recurringID.String(),
			"error", err)
	}
}

func (s *Scheduler) getOrParse(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}

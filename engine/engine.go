package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/backoff"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/credit"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/ext"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	mw "github.com/xraph/rotor/middleware"
	"github.com/xraph/rotor/observability"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/recurring"
	"github.com/xraph/rotor/runner"
	"github.com/xraph/rotor/scheduler"
	"github.com/xraph/rotor/worker"
)

// Engine wraps a Rotor with typed subsystem access.
// Use Build() to create one from a Rotor.
type Engine struct {
	r          *rotor.Rotor
	extensions *ext.Registry
	registry   *runner.Registry
	logger     *slog.Logger

	// Stores, asserted from the rotor's composite store.
	accounts  account.Store
	usage     account.UsageStore
	jobs      job.Store
	entries   queue.Store
	clusters  cluster.Store
	archives  archive.Store
	schedules recurring.Store
	events    event.Store // nil when the backend keeps no event feed

	// Services.
	ledger     *account.Ledger
	selector   *account.Selector
	credits    credit.Service
	refunds    credit.RefundPolicy
	archiveSvc *archive.Service
	watcher    *event.Watcher

	// Runtime.
	pool         *worker.Pool
	loop         *scheduler.Loop
	node         *cluster.Node
	recurrer     *recurring.Scheduler
	queueManager *queue.Manager

	// Options collected before wiring.
	mws           []mw.Middleware
	bo            backoff.Strategy
	policy        *escalate.Policy
	tenantConfigs []queue.TenantConfig

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.Default() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithEscalationPolicy overrides the default account escalation policy.
func WithEscalationPolicy(p escalate.Policy) Option {
	return func(eng *Engine) {
		eng.policy = &p
	}
}

// WithTenantConfig registers tenant-level dispatch rate and in-flight
// limits. Tenants not listed have no limits.
func WithTenantConfig(configs ...queue.TenantConfig) Option {
	return func(eng *Engine) {
		eng.tenantConfigs = append(eng.tenantConfigs, configs...)
	}
}

// WithCreditService enables credit accounting. Submit reserves a job's
// credit cost up front and fails with rotor.ErrInsufficientCredits when
// the tenant balance cannot cover it. Without a service, jobs are free.
func WithCreditService(s credit.Service) Option {
	return func(eng *Engine) {
		eng.credits = s
	}
}

// WithRefundPolicy sets how credits return for permanently failed items.
// Default credit.RefundNone.
func WithRefundPolicy(p credit.RefundPolicy) Option {
	return func(eng *Engine) {
		eng.refunds = p
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Rotor.
// The Rotor's store must implement every subsystem store interface;
// event.Store is the one optional piece, backends without it simply run
// without a job event feed.
func Build(r *rotor.Rotor, opts ...Option) (*Engine, error) {
	logger := r.Logger()
	store := r.Store()

	if store == nil {
		return nil, rotor.ErrNoStore
	}

	// Type-assert the store to get the account.Store interface.
	as, ok := store.(account.Store)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement account.Store")
	}

	// Type-assert the store to get the account.UsageStore interface.
	us, ok := store.(account.UsageStore)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement account.UsageStore")
	}

	// Type-assert the store to get the job.Store interface.
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement job.Store")
	}

	// Type-assert the store to get the queue.Store interface.
	qs, ok := store.(queue.Store)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement queue.Store")
	}

	// Type-assert the store to get the cluster.Store interface.
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement cluster.Store")
	}

	// Type-assert the store to get the archive.Store interface.
	ars, ok := store.(archive.Store)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement archive.Store")
	}

	// Type-assert the store to get the recurring.Store interface.
	rs, ok := store.(recurring.Store)
	if !ok {
		return nil, fmt.Errorf("rotor: store does not implement recurring.Store")
	}

	eng := &Engine{
		r:          r,
		extensions: ext.NewRegistry(logger),
		registry:   runner.NewRegistry(),
		logger:     logger,
		accounts:   as,
		usage:      us,
		jobs:       js,
		entries:    qs,
		clusters:   cls,
		archives:   ars,
		schedules:  rs,
		refunds:    credit.RefundNone,
	}

	// The event feed is optional: a backend without event.Store runs
	// fine, it just has no per-job activity log.
	if es, ok := store.(event.Store); ok {
		eng.events = es
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.Default()
	}

	// Account ledger and selector. Escalation transitions surface as
	// extension events through the hook.
	ledgerOpts := []account.LedgerOption{
		account.WithUsageStore(us),
		account.WithLedgerLogger(logger),
		account.WithEscalationHook(eng.emitEscalation),
	}
	if eng.policy != nil {
		ledgerOpts = append(ledgerOpts, account.WithPolicy(*eng.policy))
	}
	eng.ledger = account.NewLedger(as, ledgerOpts...)
	eng.selector = account.NewSelector(as)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/rotor")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/rotor")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/rotor/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Register the event feed extension and watcher when the backend
	// supports them.
	if eng.events != nil {
		eng.extensions.Register(event.NewFeed(eng.events, event.WithFeedLogger(logger)))
		eng.watcher = event.NewWatcher(eng.events, event.WithWatcherLogger(logger))
	}

	// Register the refund extension when a refunding credit setup is in
	// place. It settles per-item refunds as jobs finish.
	if eng.credits != nil && eng.refunds != credit.RefundNone {
		eng.extensions.Register(credit.NewRefundExtension(eng.credits, eng.refunds, logger))
	}

	config := r.Config()

	// Build default middleware stack:
	// recover → tracing → metrics → logging → tenant → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Tenant(),
		mw.Timeout(config.ExecutionTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Archive service. Replays wake the scheduler so the fresh entry is
	// claimed without waiting out a poll interval.
	eng.archiveSvc = archive.NewService(ars, js, qs,
		archive.WithServiceLogger(logger),
		archive.WithWake(eng.wakeLoop),
	)

	// Executor and pool.
	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.ledger, qs, js, logger,
		worker.WithBackoff(eng.bo),
		worker.WithArchiver(eng.archiveSvc),
		worker.WithHardTimeout(config.ExecutionTimeout),
		worker.WithMiddleware(allMws...),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithHeartbeat(cls, config.HeartbeatInterval),
		worker.WithWake(eng.wakeLoop),
	}

	// Create the tenant throttle manager if tenant configs were provided.
	if len(eng.tenantConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.tenantConfigs...)
		poolOpts = append(poolOpts, worker.WithThrottle(eng.queueManager))
	}

	eng.pool = worker.NewPool(executor, logger, poolOpts...)

	// Cluster node: worker registration, leadership, dead-worker reaping.
	eng.node = cluster.NewNode(cls, eng.pool.WorkerID(), logger,
		cluster.WithConcurrency(config.Concurrency),
		cluster.WithStaleAfter(config.StaleWorkerThreshold),
	)

	// Scheduler loop. Maintenance sweeps are leader-gated; claiming
	// is not.
	eng.loop = scheduler.NewLoop(qs, js, eng.selector, eng.pool, logger,
		scheduler.WithWorkerID(eng.pool.WorkerID()),
		scheduler.WithPollInterval(config.PollInterval),
		scheduler.WithClaimBatch(config.ClaimBatch),
		scheduler.WithOrphanAge(config.OrphanThreshold()),
		scheduler.WithExtensions(eng.extensions),
		scheduler.WithLeaderCheck(eng.node.IsLeader),
	)

	// Recurring scheduler fires due schedules through the engine's own
	// submit path, so fired jobs get credits, entries, and events like
	// any other.
	submit := func(ctx context.Context, sc *recurring.Schedule) (id.JobID, error) {
		j, err := eng.submitSchedule(ctx, sc)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}
	eng.recurrer = recurring.NewScheduler(rs, submit, eng.pool.WorkerID(), logger,
		recurring.WithLeaderCheck(eng.node.IsLeader),
		recurring.WithEmitter(eng.extensions),
	)

	// Wire back into the Rotor.
	r.SetLoop(&lifecycle{
		node:     eng.node,
		pool:     eng.pool,
		loop:     eng.loop,
		recurrer: eng.recurrer,
	})
	r.SetExtensions(eng.extensions)

	return eng, nil
}

// wakeLoop nudges the scheduler. Safe before Build finishes wiring and
// after shutdown.
func (eng *Engine) wakeLoop() {
	if eng.loop != nil {
		eng.loop.Wake()
	}
}

// emitEscalation translates ledger escalation transitions into
// extension events.
func (eng *Engine) emitEscalation(ctx context.Context, a *account.Account, state escalate.State) {
	switch state {
	case escalate.StateCooldown:
		var until time.Time
		if a.CooldownUntil != nil {
			until = *a.CooldownUntil
		}
		eng.extensions.EmitAccountCooldown(ctx, a, until)
	case escalate.StateBlocked:
		var until time.Time
		if a.BlockedUntil != nil {
			until = *a.BlockedUntil
		}
		eng.extensions.EmitAccountBlocked(ctx, a, until)
	}
}

// lifecycle sequences subsystem startup and shutdown for the rotor
// facade: cluster registration first so leadership and heartbeats are
// live before any claim, then workers, then the claim loop, then
// recurring fires. Shutdown runs the same chain in reverse.
type lifecycle struct {
	node     *cluster.Node
	pool     *worker.Pool
	loop     *scheduler.Loop
	recurrer *recurring.Scheduler
}

func (l *lifecycle) Start(ctx context.Context) error {
	if err := l.node.Start(ctx); err != nil {
		return fmt.Errorf("start cluster node: %w", err)
	}
	if err := l.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := l.loop.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := l.recurrer.Start(ctx); err != nil {
		return fmt.Errorf("start recurring scheduler: %w", err)
	}
	return nil
}

func (l *lifecycle) Stop(ctx context.Context) error {
	// Stop producing claims before draining in-flight work.
	return errors.Join(
		l.recurrer.Stop(ctx),
		l.loop.Stop(ctx),
		l.pool.Stop(ctx),
		l.node.Stop(ctx),
	)
}

// Register registers a typed runner definition with the engine.
func Register[T any](eng *Engine, def *runner.Definition[T]) {
	runner.RegisterDefinition(eng.registry, def)
}

// Submit creates a job for the tenant's work items and queues one entry
// per item. When a credit service is configured, the job's credit cost
// is reserved first; reservation is the deduction.
func (eng *Engine) Submit(ctx context.Context, tenantID, name string, jobType account.JobType, items []string, opts ...job.Option) (*job.Job, error) {
	j, err := job.New(tenantID, name, jobType, items, opts...)
	if err != nil {
		return nil, err
	}
	return eng.enqueue(ctx, j)
}

// enqueue persists a built job, reserves its credits, fans out queue
// entries, and wakes the scheduler.
func (eng *Engine) enqueue(ctx context.Context, j *job.Job) (*job.Job, error) {
	reserved := 0
	if eng.credits != nil && j.CreditCost > 0 {
		if err := eng.credits.Reserve(ctx, j.TenantID, j.CreditCost); err != nil {
			return nil, fmt.Errorf("reserve %d credits for tenant %s: %w", j.CreditCost, j.TenantID, err)
		}
		reserved = j.CreditCost
	}

	if err := eng.jobs.CreateJob(ctx, j); err != nil {
		eng.refund(ctx, j.TenantID, reserved)
		return nil, err
	}

	entries := make([]*queue.Entry, 0, len(j.Items))
	for _, item := range j.Items {
		entries = append(entries, queue.New(j.ID, j.TenantID, j.Type, item, j.Priority, j.MaxRetries))
	}
	if err := eng.entries.EnqueueEntries(ctx, entries); err != nil {
		eng.refund(ctx, j.TenantID, reserved)
		return nil, fmt.Errorf("enqueue %d entries: %w", len(entries), err)
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.wakeLoop()
	return j, nil
}

// submitSchedule builds and enqueues a job from a recurring schedule.
func (eng *Engine) submitSchedule(ctx context.Context, sc *recurring.Schedule) (*job.Job, error) {
	j, err := job.New(sc.TenantID, sc.JobName, sc.JobType, sc.Items,
		job.WithStrategy(sc.Strategy),
		job.WithPriority(sc.Priority),
		job.WithMaxRetries(sc.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("build job for schedule %q: %w", sc.Name, err)
	}
	return eng.enqueue(ctx, j)
}

// refund returns reserved credits best-effort. Failures are logged, not
// propagated: the caller is already on an error path.
func (eng *Engine) refund(ctx context.Context, tenantID string, amount int) {
	if eng.credits == nil || amount <= 0 {
		return
	}
	if err := eng.credits.Refund(ctx, tenantID, amount); err != nil {
		eng.logger.Warn("credit refund failed",
			"tenant_id", tenantID,
			"amount", amount,
			"error", err)
	}
}

// RegisterRecurring validates and persists a recurring schedule.
// Re-registration of the same name is idempotent, so applications can
// declare their schedules on every boot.
func (eng *Engine) RegisterRecurring(ctx context.Context, name, tenantID, expr, jobName string, jobType account.JobType, items []string, opts ...recurring.ScheduleOption) error {
	sc, err := recurring.New(name, tenantID, expr, jobName, jobType, items, opts...)
	if err != nil {
		return fmt.Errorf("build schedule %q: %w", name, err)
	}

	if err := eng.schedules.RegisterRecurring(ctx, sc); err != nil {
		if errors.Is(err, rotor.ErrRecurringExists) {
			return nil
		}
		return fmt.Errorf("register schedule %q: %w", name, err)
	}

	eng.logger.Info("recurring schedule registered",
		"name", name,
		"tenant_id", tenantID,
		"expr", expr,
		"job_type", string(jobType))
	return nil
}

// Start begins scheduling and execution.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.r.Start(ctx)
}

// Stop gracefully shuts down the engine and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.r.Stop(ctx)
}

// ── Admin surface ───────────────────────────────────

// PauseJob moves a job into the paused side-state and excludes its
// queued entries from claiming. In-flight entries finish normally.
func (eng *Engine) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.jobs.PauseJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := eng.entries.HoldEntries(ctx, jobID); err != nil {
		return nil, fmt.Errorf("hold entries for job %s: %w", jobID.String(), err)
	}
	eng.extensions.EmitJobPaused(ctx, j)
	return j, nil
}

// ResumeJob returns a paused job to scheduling.
func (eng *Engine) ResumeJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.jobs.ResumeJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := eng.entries.UnholdEntries(ctx, jobID); err != nil {
		return nil, fmt.Errorf("unhold entries for job %s: %w", jobID.String(), err)
	}
	eng.extensions.EmitJobResumed(ctx, j)
	eng.wakeLoop()
	return j, nil
}

// CancelJob withdraws an unfinished job: its queued entries fail
// terminally, in-flight ones finalize normally. Credits for the entries
// that never ran are returned when a credit service is configured.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	now := time.Now().UTC()

	j, err := eng.jobs.CancelJob(ctx, jobID, now)
	if err != nil {
		return nil, err
	}

	cancelled, err := eng.entries.CancelQueuedEntries(ctx, jobID, "job cancelled", now)
	if err != nil {
		return nil, fmt.Errorf("cancel queued entries for job %s: %w", jobID.String(), err)
	}

	if eng.credits != nil && cancelled > 0 && j.Total > 0 {
		perItem := j.CreditCost / j.Total
		eng.refund(ctx, j.TenantID, perItem*int(cancelled))
	}

	eng.logger.Info("job cancelled",
		"job_id", jobID.String(),
		"tenant_id", j.TenantID,
		"cancelled_entries", cancelled)
	return j, nil
}

// Status is a point-in-time snapshot of the queue and the cluster.
type Status struct {
	// Entries counts queue entries by status, across all tenants.
	Entries map[queue.Status]int `json:"entries"`
	// ActiveWorkers is the number of live registered worker instances.
	ActiveWorkers int `json:"active_workers"`
	// InFlight is the number of executions running on this instance.
	InFlight int `json:"in_flight"`
	// FreeSlots is the open capacity on this instance.
	FreeSlots int `json:"free_slots"`
}

// QueueStatus reports entry counts by status and cluster worker health.
func (eng *Engine) QueueStatus(ctx context.Context) (*Status, error) {
	counts, err := eng.entries.CountEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	workers, err := eng.clusters.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	active := 0
	for _, w := range workers {
		if w.State == cluster.StateActive {
			active++
		}
	}

	return &Status{
		Entries:       counts,
		ActiveWorkers: active,
		InFlight:      eng.pool.InFlight(),
		FreeSlots:     eng.pool.Free(),
	}, nil
}

// Progress pairs a job's counters with its entries' current states.
type Progress struct {
	Job     *job.Job             `json:"job"`
	Entries map[queue.Status]int `json:"entries"`
}

// JobProgress reports how far a job has come: the job's own counters
// plus a status breakdown of its entries.
func (eng *Engine) JobProgress(ctx context.Context, jobID id.JobID) (*Progress, error) {
	j, err := eng.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	entries, err := eng.entries.ListEntriesByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list entries for job %s: %w", jobID.String(), err)
	}

	counts := make(map[queue.Status]int, 4)
	for _, e := range entries {
		counts[e.Status]++
	}

	return &Progress{Job: j, Entries: counts}, nil
}

// ReplayArchived re-enqueues an archived work item as a fresh job.
func (eng *Engine) ReplayArchived(ctx context.Context, archiveID id.ArchiveID) (*queue.Entry, error) {
	return eng.archiveSvc.Replay(ctx, archiveID)
}

// Watch streams a job's event feed. Returns rotor.ErrNoStore when the
// backend keeps no events. The channel closes when ctx is done.
func (eng *Engine) Watch(ctx context.Context, jobID id.JobID) (<-chan *event.Event, error) {
	if eng.watcher == nil {
		return nil, rotor.ErrNoStore
	}
	return eng.watcher.Watch(ctx, jobID), nil
}

// ── Accessors ───────────────────────────────────────

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the runner registry.
func (eng *Engine) Registry() *runner.Registry { return eng.registry }

// Rotor returns the underlying Rotor.
func (eng *Engine) Rotor() *rotor.Rotor { return eng.r }

// Ledger returns the account ledger.
func (eng *Engine) Ledger() *account.Ledger { return eng.ledger }

// Selector returns the account selector.
func (eng *Engine) Selector() *account.Selector { return eng.selector }

// Archive returns the archive service for inspection and replay.
func (eng *Engine) Archive() *archive.Service { return eng.archiveSvc }

// Credits returns the credit service, or nil when accounting is off.
func (eng *Engine) Credits() credit.Service { return eng.credits }

// RefundPolicy returns the configured refund policy.
func (eng *Engine) RefundPolicy() credit.RefundPolicy { return eng.refunds }

// Node returns the cluster node.
func (eng *Engine) Node() *cluster.Node { return eng.node }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Recurring returns the recurring scheduler.
func (eng *Engine) Recurring() *recurring.Scheduler { return eng.recurrer }

// QueueManager returns the tenant throttle manager, or nil if no tenant
// configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Events returns the event store, or nil when the backend keeps none.
func (eng *Engine) Events() event.Store { return eng.events }

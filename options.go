package rotor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Rotor.
type Option func(*Rotor) error

// Storer is the minimal store interface held by the Rotor.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// loopRunner is an internal interface for scheduler and pool lifecycle.
type loopRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Rotor is the central coordinator for job scheduling, account rotation,
// and failure escalation.
//
// Create one with New() and functional options. The Rotor holds references
// to subsystem components via internal interfaces to avoid import cycles.
// Use Build() from the engine package to wire everything together.
type Rotor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	loop       loopRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Rotor with the given options.
func New(opts ...Option) (*Rotor, error) {
	r := &Rotor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Logger returns the rotor's logger.
func (r *Rotor) Logger() *slog.Logger { return r.logger }

// Store returns the rotor's store.
func (r *Rotor) Store() Storer { return r.store }

// Config returns a copy of the rotor's configuration.
func (r *Rotor) Config() Config { return r.config }

// SetLoop sets the scheduler/pool runner (called by the engine package).
func (r *Rotor) SetLoop(l loopRunner) { r.loop = l }

// SetExtensions sets the extension emitter (called by the engine package).
func (r *Rotor) SetExtensions(e extensionEmitter) { r.extensions = e }

// Start begins scheduling and execution.
func (r *Rotor) Start(ctx context.Context) error {
	if r.loop == nil {
		return ErrNotWired
	}
	if err := r.loop.Start(ctx); err != nil {
		return err
	}
	r.started = true
	return nil
}

// Stop gracefully shuts down the rotor: the scheduler stops claiming,
// in-flight executions drain up to ShutdownTimeout, extensions get a
// shutdown event, and the store is closed.
func (r *Rotor) Stop(ctx context.Context) error {
	if r.loop != nil && r.started {
		if err := r.loop.Stop(ctx); err != nil {
			r.logger.Error("scheduler stop error", "error", err)
		}
	}
	if r.extensions != nil {
		r.extensions.EmitShutdown(ctx)
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConcurrency sets the global ceiling on concurrent executions.
func WithConcurrency(n int) Option {
	return func(r *Rotor) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the scheduler loop scans without a wake.
func WithPollInterval(d time.Duration) Option {
	return func(r *Rotor) error {
		r.config.PollInterval = d
		return nil
	}
}

// WithClaimBatch bounds the per-tick queue scan.
func WithClaimBatch(n int) Option {
	return func(r *Rotor) error {
		r.config.ClaimBatch = n
		return nil
	}
}

// WithExecutionTimeout sets the hard cap on a single execution.
func WithExecutionTimeout(d time.Duration) Option {
	return func(r *Rotor) error {
		r.config.ExecutionTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the graceful shutdown drain window.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Rotor) error {
		r.config.ShutdownTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger for the rotor.
func WithLogger(l *slog.Logger) Option {
	return func(r *Rotor) error {
		r.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the rotor.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(r *Rotor) error {
		r.store = s
		return nil
	}
}

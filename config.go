package rotor

import "time"

// Config holds configuration for the scheduling core.
type Config struct {
	// Concurrency is the global ceiling on concurrently executing work
	// items. It is shared across all tenants on purpose: it caps total
	// external load, not per-tenant fairness.
	Concurrency int

	// PollInterval is how often the scheduler loop scans the queue when
	// no wake signal arrives.
	PollInterval time.Duration

	// ClaimBatch bounds how many queue entries one scheduler tick will
	// examine, so a run of unservable entries cannot starve other tenants.
	ClaimBatch int

	// ExecutionTimeout is the hard cap on a single execution. An execution
	// that produces no outcome within this window is failed as transient
	// and its worker slot reclaimed.
	ExecutionTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight executions
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often this instance refreshes its worker
	// registration.
	HeartbeatInterval time.Duration

	// StaleWorkerThreshold is how long a worker may miss heartbeats before
	// it is considered dead and its claims orphaned.
	StaleWorkerThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          5,
		PollInterval:         5 * time.Second,
		ClaimBatch:           10,
		ExecutionTimeout:     120 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		StaleWorkerThreshold: 30 * time.Second,
	}
}

// OrphanThreshold is the age past which an assigned or processing entry is
// treated as abandoned and requeued: twice the expected execution time.
func (c Config) OrphanThreshold() time.Duration {
	return 2 * c.ExecutionTimeout
}

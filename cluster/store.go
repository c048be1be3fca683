package cluster

import (
	"context"
	"time"

	"github.com/xraph/rotor/id"
)

// Store defines the persistence contract for cluster coordination.
// Leadership operations must be atomic: two instances acquiring
// simultaneously must not both win.
type Store interface {
	// RegisterWorker adds a worker to the registry.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker refreshes a worker's last-seen timestamp, or
	// rotor.ErrWorkerNotFound for an unregistered worker.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// UpdateWorkerState moves a worker between lifecycle states.
	UpdateWorkerState(ctx context.Context, workerID id.WorkerID, state State) error

	// StaleWorkers returns non-dead workers whose last heartbeat is
	// older than the threshold.
	StaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]*Worker, error)

	// AcquireLeadership attempts to become leader. True when this
	// worker now leads; the lease expires after ttl unless renewed.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error)

	// RenewLeadership extends the lease. False when this worker is not
	// the leader anymore.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error)

	// ReleaseLeadership gives up the lease if held. Releasing without
	// holding it is a no-op.
	ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error

	// GetLeader returns the worker holding an unexpired lease, or nil.
	GetLeader(ctx context.Context, now time.Time) (*Worker, error)
}

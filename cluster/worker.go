// Package cluster coordinates multiple instances sharing one store:
// worker registration with heartbeats, store-based leader election, and
// dead-worker reaping. Only maintenance needs a leader (orphan sweeps,
// recurring firing); claiming is already safe everywhere because the
// queue claim is atomic.
package cluster

import (
	"time"

	"github.com/xraph/rotor/id"
)

// State is the lifecycle state of a worker instance.
type State string

const (
	// StateActive means the worker heartbeats and executes entries.
	StateActive State = "active"
	// StateDraining means the worker finishes in-flight entries but
	// takes no new ones.
	StateDraining State = "draining"
	// StateDead means the worker missed its heartbeats; its claims are
	// requeued by the orphan sweep.
	StateDead State = "dead"
)

// Worker is one registered instance in the cluster.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Concurrency int               `json:"concurrency"`
	State       State             `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Stale reports whether the worker has missed heartbeats past the
// threshold.
func (w *Worker) Stale(threshold time.Duration, now time.Time) bool {
	return now.Sub(w.LastSeen) > threshold
}

package cluster

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/rotor/id"
)

const (
	// DefaultLeaderTTL is the leadership lease length. Renewal runs at
	// half this interval, so one missed renewal survives.
	DefaultLeaderTTL = 15 * time.Second
	// DefaultReapInterval is how often the leader looks for dead workers.
	DefaultReapInterval = 30 * time.Second
	// DefaultStaleAfter is how long a worker may miss heartbeats before
	// it is marked dead.
	DefaultStaleAfter = 30 * time.Second
)

// Node ties one process into the cluster: it registers the worker,
// competes for leadership, and, while leading, marks dead workers.
// Heartbeats come from the worker pool; requeueing a dead worker's
// claims is the scheduler's orphan sweep.
type Node struct {
	store  Store
	logger *slog.Logger

	workerID    id.WorkerID
	hostname    string
	concurrency int

	leaderTTL    time.Duration
	reapInterval time.Duration
	staleAfter   time.Duration
	now          func() time.Time

	isLeader atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithHostname overrides the registered hostname.
func WithHostname(hostname string) NodeOption {
	return func(n *Node) { n.hostname = hostname }
}

// WithConcurrency records the instance's worker slot count in the
// registry, for operator visibility only.
func WithConcurrency(c int) NodeOption {
	return func(n *Node) { n.concurrency = c }
}

// WithLeaderTTL sets the leadership lease length.
func WithLeaderTTL(d time.Duration) NodeOption {
	return func(n *Node) {
		if d > 0 {
			n.leaderTTL = d
		}
	}
}

// WithReapInterval sets how often the leader sweeps for dead workers.
func WithReapInterval(d time.Duration) NodeOption {
	return func(n *Node) {
		if d > 0 {
			n.reapInterval = d
		}
	}
}

// WithStaleAfter sets the missed-heartbeat threshold.
func WithStaleAfter(d time.Duration) NodeOption {
	return func(n *Node) {
		if d > 0 {
			n.staleAfter = d
		}
	}
}

// WithNodeClock injects the time source.
func WithNodeClock(now func() time.Time) NodeOption {
	return func(n *Node) { n.now = now }
}

// NewNode creates a cluster node for the given worker identity.
func NewNode(store Store, workerID id.WorkerID, logger *slog.Logger, opts ...NodeOption) *Node {
	hostname, _ := os.Hostname()
	n := &Node{
		store:        store,
		logger:       logger,
		workerID:     workerID,
		hostname:     hostname,
		leaderTTL:    DefaultLeaderTTL,
		reapInterval: DefaultReapInterval,
		staleAfter:   DefaultStaleAfter,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsLeader reports whether this node currently holds leadership. It
// reads the last election result, refreshed every lease renewal.
func (n *Node) IsLeader() bool { return n.isLeader.Load() }

// WorkerID returns this node's worker identity.
func (n *Node) WorkerID() id.WorkerID { return n.workerID }

// Start registers the worker and begins competing for leadership.
// Idempotent.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}

	now := n.now()
	w := &Worker{
		ID:          n.workerID,
		Hostname:    n.hostname,
		Concurrency: n.concurrency,
		State:       StateActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := n.store.RegisterWorker(ctx, w); err != nil {
		return err
	}

	n.running = true
	n.stopCh = make(chan struct{})
	n.wg.Add(2)
	go n.leaderLoop()
	go n.reapLoop()

	n.logger.Info("cluster node started",
		"worker_id", n.workerID.String(),
		"hostname", n.hostname)
	return nil
}

// Stop drains the node: the worker goes draining, leadership is
// released if held, and the registration is removed. Idempotent.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	close(n.stopCh)
	n.mu.Unlock()

	if err := n.store.UpdateWorkerState(ctx, n.workerID, StateDraining); err != nil {
		n.logger.Warn("drain state update failed", "error", err)
	}

	n.wg.Wait()

	if n.isLeader.Load() {
		if err := n.store.ReleaseLeadership(ctx, n.workerID); err != nil {
			n.logger.Warn("leadership release failed", "error", err)
		}
		n.isLeader.Store(false)
	}
	if err := n.store.DeregisterWorker(ctx, n.workerID); err != nil {
		n.logger.Warn("worker deregistration failed", "error", err)
	}

	n.logger.Info("cluster node stopped", "worker_id", n.workerID.String())
	return nil
}

// leaderLoop renews or acquires leadership at half the lease length.
func (n *Node) leaderLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.leaderTTL / 2)
	defer ticker.Stop()

	n.tryLeadership()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.tryLeadership()
		}
	}
}

func (n *Node) tryLeadership() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	was := n.isLeader.Load()

	// Renewing first keeps the common case to one cheap store call.
	renewed, err := n.store.RenewLeadership(ctx, n.workerID, n.leaderTTL, n.now())
	if err != nil {
		n.logger.Warn("leadership renew error", "error", err)
		return
	}
	if renewed {
		n.isLeader.Store(true)
		return
	}

	acquired, err := n.store.AcquireLeadership(ctx, n.workerID, n.leaderTTL, n.now())
	if err != nil {
		n.logger.Warn("leadership acquire error", "error", err)
		return
	}
	n.isLeader.Store(acquired)

	switch {
	case acquired && !was:
		n.logger.Info("acquired leadership", "worker_id", n.workerID.String())
	case !acquired && was:
		n.logger.Warn("leadership lost", "worker_id", n.workerID.String())
	}
}

// reapLoop marks workers dead once their heartbeats go stale. Leader
// only; their orphaned claims return to the queue via the scheduler's
// sweep, not here.
func (n *Node) reapLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if !n.isLeader.Load() {
				continue
			}
			n.reap()
		}
	}
}

func (n *Node) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stale, err := n.store.StaleWorkers(ctx, n.staleAfter, n.now())
	if err != nil {
		n.logger.Error("stale worker scan failed", "error", err)
		return
	}
	for _, w := range stale {
		if w.ID == n.workerID {
			continue
		}
		if err := n.store.UpdateWorkerState(ctx, w.ID, StateDead); err != nil {
			n.logger.Error("dead worker mark failed",
				"worker_id", w.ID.String(),
				"error", err)
			continue
		}
		n.logger.Warn("worker marked dead",
			"worker_id", w.ID.String(),
			"hostname", w.Hostname,
			"last_seen", w.LastSeen)
	}
}

package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/id"
)

// RegisterWorker adds a worker to the registry. Re-registering overwrites
// the whole row, so a restarted instance starts from its announced state.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m := toWorkerModel(w)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("is_leader = EXCLUDED.is_leader").
		Set("leader_until = EXCLUDED.leader_until").
		Set("last_seen = EXCLUDED.last_seen").
		Set("metadata = EXCLUDED.metadata").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewDelete().
		TableExpr("rotor_workers").
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: deregister worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_workers").
		Set("last_seen = ?", now).
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: heartbeat worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotor/bun: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		workers = append(workers, fromWorkerModel(&models[i]))
	}
	return workers, nil
}

// UpdateWorkerState moves a worker between lifecycle states.
func (s *Store) UpdateWorkerState(ctx context.Context, workerID id.WorkerID, state cluster.State) error {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_workers").
		Set("state = ?", string(state)).
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: update worker state: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// StaleWorkers returns non-dead workers whose last heartbeat is older than
// the threshold.
func (s *Store) StaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]*cluster.Worker, error) {
	cutoff := now.Add(-threshold)

	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Where("state <> 'dead'").
		Where("last_seen < ?", cutoff).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotor/bun: stale workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		workers = append(workers, fromWorkerModel(&models[i]))
	}
	return workers, nil
}

// AcquireLeadership attempts to take the leader lease. The upsert is
// guarded by the current holder and expiry, so exactly one contender wins
// a free or expired lease. A worker does not have to be registered to
// hold the lease; the is_leader flags on worker rows are advisory.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	res, err := s.db.NewRaw(`
		INSERT INTO rotor_leadership (singleton, worker_id, lease_until)
		VALUES (TRUE, ?0, ?1)
		ON CONFLICT (singleton) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			lease_until = EXCLUDED.lease_until
		WHERE rotor_leadership.worker_id = EXCLUDED.worker_id
		   OR rotor_leadership.lease_until <= ?2`,
		workerID, until, now,
	).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("rotor/bun: acquire leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return false, nil
	}

	if err := s.syncLeaderFlags(ctx, workerID, &until); err != nil {
		return false, err
	}
	return true, nil
}

// RenewLeadership extends the lease when this worker still holds it.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	res, err := s.db.NewUpdate().
		TableExpr("rotor_leadership").
		Set("lease_until = ?", until).
		Where("worker_id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("rotor/bun: renew leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return false, nil
	}

	if err := s.syncLeaderFlags(ctx, workerID, &until); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLeadership gives up the lease if held. Releasing without holding
// it is a no-op.
func (s *Store) ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewDelete().
		TableExpr("rotor_leadership").
		Where("worker_id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: release leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return nil
	}

	_, err = s.db.NewUpdate().
		TableExpr("rotor_workers").
		Set("is_leader = FALSE").
		Set("leader_until = NULL").
		Where("id = ?", workerID).
		Where("is_leader = TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: clear leader flag: %w", err)
	}
	return nil
}

// GetLeader returns the worker holding an unexpired lease, or nil. A lease
// held by an unregistered worker reports no leader.
func (s *Store) GetLeader(ctx context.Context, now time.Time) (*cluster.Worker, error) {
	m := new(workerModel)
	err := s.db.NewRaw(`
		SELECT
			w.id, w.hostname, w.concurrency, w.state,
			w.is_leader, w.leader_until, w.last_seen, w.metadata, w.created_at
		FROM rotor_workers w
		JOIN rotor_leadership l ON l.worker_id = w.id
		WHERE l.lease_until > ?`,
		now,
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/bun: get leader: %w", err)
	}
	return fromWorkerModel(m), nil
}

// syncLeaderFlags mirrors the lease onto the worker rows: the holder gets
// is_leader and the lease expiry, everyone else is cleared.
func (s *Store) syncLeaderFlags(ctx context.Context, workerID id.WorkerID, until *time.Time) error {
	_, err := s.db.NewUpdate().
		TableExpr("rotor_workers").
		Set("is_leader = FALSE").
		Set("leader_until = NULL").
		Where("is_leader = TRUE").
		Where("id <> ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: clear stale leader flags: %w", err)
	}

	_, err = s.db.NewUpdate().
		TableExpr("rotor_workers").
		Set("is_leader = TRUE").
		Set("leader_until = ?", until).
		Where("id = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: set leader flag: %w", err)
	}
	return nil
}

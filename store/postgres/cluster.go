package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/id"
)

// RegisterWorker adds a worker to the registry. Re-registering overwrites
// the whole row, so a restarted instance starts from its announced state.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_workers (
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			is_leader = EXCLUDED.is_leader,
			leader_until = EXCLUDED.leader_until,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`,
		w.ID, w.Hostname, w.Concurrency, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, w.Metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rotor_workers WHERE id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rotor_workers SET last_seen = $2 WHERE id = $1`,
		workerID, now,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM rotor_workers
		ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// UpdateWorkerState moves a worker between lifecycle states.
func (s *Store) UpdateWorkerState(ctx context.Context, workerID id.WorkerID, state cluster.State) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rotor_workers SET state = $2 WHERE id = $1`,
		workerID, string(state),
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: update worker state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// StaleWorkers returns non-dead workers whose last heartbeat is older than
// the threshold.
func (s *Store) StaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]*cluster.Worker, error) {
	cutoff := now.Add(-threshold)

	rows, err := s.pool.Query(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM rotor_workers
		WHERE state <> 'dead' AND last_seen < $1
		ORDER BY id ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: stale workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to take the leader lease. The upsert is
// guarded by the current holder and expiry, so exactly one contender wins
// a free or expired lease. A worker does not have to be registered to
// hold the lease; the is_leader flags on worker rows are advisory.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_leadership (singleton, worker_id, lease_until)
		VALUES (TRUE, $1, $2)
		ON CONFLICT (singleton) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			lease_until = EXCLUDED.lease_until
		WHERE rotor_leadership.worker_id = EXCLUDED.worker_id
		   OR rotor_leadership.lease_until <= $3`,
		workerID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("rotor/postgres: acquire leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	tag, err := s.pool.Exec(ctx,
		`UPDATE rotor_leadership SET lease_until = $2 WHERE worker_id = $1`,
		workerID, until,
	)
	if err != nil {
		return false, fmt.Errorf("rotor/postgres: renew leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rotor_leadership WHERE worker_id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: release leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE rotor_workers
		SET is_leader = FALSE, leader_until = NULL
		WHERE id = $1 AND is_leader = TRUE`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: clear leader flag: %w", err)
	}
	return nil
}

// GetLeader returns the worker holding an unexpired lease, or nil. A lease
// held by an unregistered worker reports no leader.
func (s *Store) GetLeader(ctx context.Context, now time.Time) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			w.id, w.hostname, w.concurrency, w.state,
			w.is_leader, w.leader_until, w.last_seen, w.metadata, w.created_at
		FROM rotor_workers w
		JOIN rotor_leadership l ON l.worker_id = w.id
		WHERE l.lease_until > $1`,
		now,
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/postgres: get leader: %w", err)
	}
	return w, nil
}

// syncLeaderFlags mirrors the lease onto the worker rows: the holder gets
// is_leader and the lease expiry, everyone else is cleared.
func (s *Store) syncLeaderFlags(ctx context.Context, workerID id.WorkerID, until *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rotor_workers
		SET is_leader = FALSE, leader_until = NULL
		WHERE is_leader = TRUE AND id <> $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: clear stale leader flags: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE rotor_workers SET is_leader = TRUE, leader_until = $2 WHERE id = $1`,
		workerID, until,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: set leader flag: %w", err)
	}
	return nil
}

// scanWorker scans a single worker row.
func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		stateStr string
	)
	err := row.Scan(
		&w.ID, &w.Hostname, &w.Concurrency, &stateStr,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &w.Metadata, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.State(stateStr)

	return &w, nil
}

// collectWorkers collects all workers from query rows.
func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/postgres: scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate worker rows: %w", err)
	}
	return workers, nil
}

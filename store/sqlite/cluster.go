package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/id"
)

// RegisterWorker adds a worker to the registry. Re-registering overwrites
// the whole row, so a restarted instance starts from its announced state.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_workers (
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		w.IsLeader, timeToNanos(w.LeaderUntil), w.LastSeen.UnixNano(),
		mapToJSON(w.Metadata), w.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rotor_workers WHERE id = ?`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: deregister worker: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rotor_workers SET last_seen = ? WHERE id = ?`,
		now.UnixNano(), workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: heartbeat worker: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM rotor_workers
		ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// UpdateWorkerState moves a worker between lifecycle states.
func (s *Store) UpdateWorkerState(ctx context.Context, workerID id.WorkerID, state cluster.State) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rotor_workers SET state = ? WHERE id = ?`,
		string(state), workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: update worker state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// StaleWorkers returns non-dead workers whose last heartbeat is older than
// the threshold.
func (s *Store) StaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]*cluster.Worker, error) {
	cutoff := now.Add(-threshold)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM rotor_workers
		WHERE state <> 'dead' AND last_seen < ?
		ORDER BY id ASC`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: stale workers: %w", err)
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_leadership (singleton, worker_id, lease_until)
		VALUES (1, ?, ?)
		ON CONFLICT (singleton) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			lease_until = EXCLUDED.lease_until
		WHERE rotor_leadership.worker_id = EXCLUDED.worker_id
		   OR rotor_leadership.lease_until <= ?`,
		workerID, until.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("rotor/sqlite: acquire leadership: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
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

	res, err := s.db.ExecContext(ctx,
		`UPDATE rotor_leadership SET lease_until = ? WHERE worker_id = ?`,
		until.UnixNano(), workerID,
	)
	if err != nil {
		return false, fmt.Errorf("rotor/sqlite: renew leadership: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
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
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rotor_leadership WHERE worker_id = ?`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: release leadership: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rotor_workers
		SET is_leader = 0, leader_until = NULL
		WHERE id = ? AND is_leader = 1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: clear leader flag: %w", err)
	}
	return nil
}

// GetLeader returns the worker holding an unexpired lease, or nil. A lease
// held by an unregistered worker reports no leader.
func (s *Store) GetLeader(ctx context.Context, now time.Time) (*cluster.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			w.id, w.hostname, w.concurrency, w.state,
			w.is_leader, w.leader_until, w.last_seen, w.metadata, w.created_at
		FROM rotor_workers w
		JOIN rotor_leadership l ON l.worker_id = w.id
		WHERE l.lease_until > ?`,
		now.UnixNano(),
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/sqlite: get leader: %w", err)
	}
	return w, nil
}

// syncLeaderFlags mirrors the lease onto the worker rows: the holder gets
// is_leader and the lease expiry, everyone else is cleared.
func (s *Store) syncLeaderFlags(ctx context.Context, workerID id.WorkerID, until *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rotor_workers
		SET is_leader = 0, leader_until = NULL
		WHERE is_leader = 1 AND id <> ?`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: clear stale leader flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE rotor_workers SET is_leader = 1, leader_until = ? WHERE id = ?`,
		timeToNanos(until), workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: set leader flag: %w", err)
	}
	return nil
}

// scanWorker scans a single worker row.
func scanWorker(row rowScanner) (*cluster.Worker, error) {
	var (
		w             cluster.Worker
		stateStr      string
		leaderUntilNs sql.NullInt64
		lastSeenNs    int64
		metadataJSON  string
		createdNs     int64
	)
	err := row.Scan(
		&w.ID, &w.Hostname, &w.Concurrency, &stateStr,
		&w.IsLeader, &leaderUntilNs, &lastSeenNs, &metadataJSON, &createdNs,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.State(stateStr)
	w.LeaderUntil = nanosToTime(leaderUntilNs)
	w.LastSeen = fromNanos(lastSeenNs)
	w.Metadata = jsonToMap(metadataJSON)
	w.CreatedAt = fromNanos(createdNs)

	return &w, nil
}

// collectWorkers collects all workers from query rows.
func collectWorkers(rows *sql.Rows) ([]*cluster.Worker, error) {
	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate worker rows: %w", err)
	}
	return workers, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/queue"
)

// EnqueueEntries stores a batch of new entries in one round trip.
func (s *Store) EnqueueEntries(ctx context.Context, entries []*queue.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO rotor_entries (
				id, job_id, tenant_id, job_type, payload, account_id,
				status, priority, retry_count, max_retries,
				not_before, held, worker_id,
				assigned_at, started_at, completed_at, last_error,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10,
				$11, $12, $13,
				$14, $15, $16, $17,
				$18, $19
			)`,
			e.ID, e.JobID, e.TenantID, string(e.JobType), e.Payload, e.AccountID,
			string(e.Status), e.Priority, e.RetryCount, e.MaxRetries,
			e.NotBefore, e.Held, e.WorkerID,
			e.AssignedAt, e.StartedAt, e.CompletedAt, e.LastError,
			e.CreatedAt, e.UpdatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("rotor/postgres: enqueue entries: %w", err)
		}
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*queue.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at
		FROM rotor_entries
		WHERE id = $1`,
		entryID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: get entry: %w", err)
	}
	return e, nil
}

// ListEntriesByJob returns all entries of a job, oldest first.
func (s *Store) ListEntriesByJob(ctx context.Context, jobID id.JobID) ([]*queue.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at
		FROM rotor_entries
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list entries by job: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ClaimNext atomically claims the highest-priority, oldest claimable entry
// for a worker. SKIP LOCKED lets concurrent schedulers claim distinct rows
// instead of queueing on the same one.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*queue.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE rotor_entries
		SET status = 'assigned', worker_id = $1, assigned_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM rotor_entries
			WHERE status = 'queued'
			  AND held = FALSE
			  AND (not_before IS NULL OR not_before <= $2)
			ORDER BY priority ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at`,
		workerID, now,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/postgres: claim next entry: %w", err)
	}
	return e, nil
}

// MarkEntryProcessing transitions assigned → processing and persists the
// resolved account binding in the same write.
func (s *Store) MarkEntryProcessing(ctx context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_entries
		SET status = 'processing', account_id = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'assigned'`,
		entryID, accountID, now,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: mark entry processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		found, existsErr := s.exists(ctx, "rotor_entries", entryID)
		if existsErr != nil {
			return existsErr
		}
		if found {
			return rotor.ErrInvalidState
		}
		return rotor.ErrEntryNotFound
	}
	return nil
}

// ReleaseEntry puts an assigned or processing entry back to queued without
// consuming retry budget.
func (s *Store) ReleaseEntry(ctx context.Context, entryID id.EntryID, delay time.Duration, now time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		e, err := getEntryForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != queue.StatusAssigned && e.Status != queue.StatusProcessing {
			return nil
		}

		e.Release(now)
		if delay > 0 {
			nb := now.Add(delay)
			e.NotBefore = &nb
		}

		return saveEntryTx(ctx, tx, e)
	})
}

// FinalizeEntry applies one execution outcome under a row lock. Entries
// already terminal return unchanged with applied=false so a duplicate
// finalize cannot double-count job outcomes.
func (s *Store) FinalizeEntry(ctx context.Context, entryID id.EntryID, outcome rotor.Outcome, reason string, retryDelay time.Duration, now time.Time) (*queue.Entry, bool, error) {
	var (
		updated *queue.Entry
		applied bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		e, txErr := getEntryForUpdate(ctx, tx, entryID)
		if txErr != nil {
			return txErr
		}
		if e.Status.Terminal() {
			updated = e
			return nil
		}

		queue.ApplyFinalize(e, outcome, reason, retryDelay, now)
		if txErr := saveEntryTx(ctx, tx, e); txErr != nil {
			return txErr
		}

		updated = e
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, applied, nil
}

// RequeueOrphans releases assigned or processing entries whose claim is
// older than olderThan back to queued. Recovery after a worker crash.
func (s *Store) RequeueOrphans(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-olderThan)

	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_entries
		SET status = 'queued', worker_id = NULL, account_id = NULL,
		    assigned_at = NULL, started_at = NULL, updated_at = $1
		WHERE status IN ('assigned', 'processing')
		  AND COALESCE(started_at, assigned_at, updated_at) <= $2`,
		now, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: requeue orphans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HoldEntries excludes a job's queued entries from claiming.
func (s *Store) HoldEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_entries
		SET held = TRUE, updated_at = NOW()
		WHERE job_id = $1 AND status = 'queued' AND held = FALSE`,
		jobID,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: hold entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnholdEntries puts a job's held entries back in claimable state.
func (s *Store) UnholdEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_entries
		SET held = FALSE, updated_at = NOW()
		WHERE job_id = $1 AND held = TRUE`,
		jobID,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: unhold entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelQueuedEntries terminally fails a job's queued entries with the
// given reason. In-flight entries are left to finalize normally.
func (s *Store) CancelQueuedEntries(ctx context.Context, jobID id.JobID, reason string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_entries
		SET status = 'failed', last_error = $2, completed_at = $3,
		    held = FALSE, updated_at = $3
		WHERE job_id = $1 AND status = 'queued'`,
		jobID, reason, now,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: cancel queued entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountEntries returns entry counts grouped by status.
func (s *Store) CountEntries(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM rotor_entries GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: count entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var (
			statusStr string
			n         int
		)
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, fmt.Errorf("rotor/postgres: scan entry count: %w", err)
		}
		counts[queue.Status(statusStr)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate entry counts: %w", err)
	}
	return counts, nil
}

// getEntryForUpdate loads an entry row with FOR UPDATE inside tx.
func getEntryForUpdate(ctx context.Context, tx pgx.Tx, entryID id.EntryID) (*queue.Entry, error) {
	row := tx.QueryRow(ctx, `
		SELECT
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at
		FROM rotor_entries
		WHERE id = $1
		FOR UPDATE`,
		entryID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: lock entry: %w", err)
	}
	return e, nil
}

// saveEntryTx writes back the fields release and finalize mutate.
func saveEntryTx(ctx context.Context, tx pgx.Tx, e *queue.Entry) error {
	_, err := tx.Exec(ctx, `
		UPDATE rotor_entries SET
			status = $2, account_id = $3, worker_id = $4, retry_count = $5,
			not_before = $6, assigned_at = $7, started_at = $8,
			completed_at = $9, last_error = $10, updated_at = $11
		WHERE id = $1`,
		e.ID, string(e.Status), e.AccountID, e.WorkerID, e.RetryCount,
		e.NotBefore, e.AssignedAt, e.StartedAt,
		e.CompletedAt, e.LastError, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: save entry: %w", err)
	}
	return nil
}

// scanEntry scans a single entry row.
func scanEntry(row pgx.Row) (*queue.Entry, error) {
	var (
		e       queue.Entry
		typeStr string
		status  string
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.TenantID, &typeStr, &e.Payload, &e.AccountID,
		&status, &e.Priority, &e.RetryCount, &e.MaxRetries,
		&e.NotBefore, &e.Held, &e.WorkerID,
		&e.AssignedAt, &e.StartedAt, &e.CompletedAt, &e.LastError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.JobType = account.JobType(typeStr)
	e.Status = queue.Status(status)

	return &e, nil
}

// collectEntries collects all entries from query rows.
func collectEntries(rows pgx.Rows) ([]*queue.Entry, error) {
	var entries []*queue.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/postgres: scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate entry rows: %w", err)
	}
	return entries, nil
}

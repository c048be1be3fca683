package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/queue"
)

// EnqueueEntries stores a batch of new entries in one transaction.
func (s *Store) EnqueueEntries(ctx context.Context, entries []*queue.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rotor_entries (
				id, job_id, tenant_id, job_type, payload, account_id,
				status, priority, retry_count, max_retries,
				not_before, held, worker_id,
				assigned_at, started_at, completed_at, last_error,
				created_at, updated_at
			) VALUES (
				?, ?, ?, ?, ?, ?,
				?, ?, ?, ?,
				?, ?, ?,
				?, ?, ?, ?,
				?, ?
			)`)
		if err != nil {
			return fmt.Errorf("rotor/sqlite: prepare enqueue: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err := stmt.ExecContext(ctx,
				e.ID, e.JobID, e.TenantID, string(e.JobType), e.Payload, e.AccountID,
				string(e.Status), e.Priority, e.RetryCount, e.MaxRetries,
				timeToNanos(e.NotBefore), e.Held, e.WorkerID,
				timeToNanos(e.AssignedAt), timeToNanos(e.StartedAt), timeToNanos(e.CompletedAt), e.LastError,
				e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(),
			)
			if err != nil {
				return fmt.Errorf("rotor/sqlite: enqueue entries: %w", err)
			}
		}
		return nil
	})
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*queue.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at
		FROM rotor_entries
		WHERE id = ?`,
		entryID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: get entry: %w", err)
	}
	return e, nil
}

// ListEntriesByJob returns all entries of a job, oldest first.
func (s *Store) ListEntriesByJob(ctx context.Context, jobID id.JobID) ([]*queue.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at
		FROM rotor_entries
		WHERE job_id = ?
		ORDER BY created_at ASC, id ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list entries by job: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ClaimNext atomically claims the highest-priority, oldest claimable entry
// for a worker. SQLite has no SKIP LOCKED; the claim is one UPDATE over a
// subquery, and the single write connection keeps concurrent claimers from
// interleaving inside it.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*queue.Entry, error) {
	nowNs := now.UnixNano()

	row := s.db.QueryRowContext(ctx, `
		UPDATE rotor_entries
		SET status = 'assigned', worker_id = ?, assigned_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM rotor_entries
			WHERE status = 'queued'
			  AND held = 0
			  AND (not_before IS NULL OR not_before <= ?)
			ORDER BY priority ASC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at`,
		workerID, nowNs, nowNs, nowNs,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/sqlite: claim next entry: %w", err)
	}
	return e, nil
}

// MarkEntryProcessing transitions assigned → processing and persists the
// resolved account binding in the same write.
func (s *Store) MarkEntryProcessing(ctx context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_entries
		SET status = 'processing', account_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'assigned'`,
		accountID, now.UnixNano(), now.UnixNano(), entryID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: mark entry processing: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
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
	return s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := getEntryTx(ctx, tx, entryID)
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

// FinalizeEntry applies one execution outcome inside a transaction.
// Entries already terminal return unchanged with applied=false so a
// duplicate finalize cannot double-count job outcomes.
func (s *Store) FinalizeEntry(ctx context.Context, entryID id.EntryID, outcome rotor.Outcome, reason string, retryDelay time.Duration, now time.Time) (*queue.Entry, bool, error) {
	var (
		updated *queue.Entry
		applied bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, txErr := getEntryTx(ctx, tx, entryID)
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_entries
		SET status = 'queued', worker_id = NULL, account_id = NULL,
		    assigned_at = NULL, started_at = NULL, updated_at = ?
		WHERE status IN ('assigned', 'processing')
		  AND COALESCE(started_at, assigned_at, updated_at) <= ?`,
		now.UnixNano(), cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: requeue orphans: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// HoldEntries excludes a job's queued entries from claiming.
func (s *Store) HoldEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_entries
		SET held = 1, updated_at = ?
		WHERE job_id = ? AND status = 'queued' AND held = 0`,
		time.Now().UTC().UnixNano(), jobID,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: hold entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// UnholdEntries puts a job's held entries back in claimable state.
func (s *Store) UnholdEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_entries
		SET held = 0, updated_at = ?
		WHERE job_id = ? AND held = 1`,
		time.Now().UTC().UnixNano(), jobID,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: unhold entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CancelQueuedEntries terminally fails a job's queued entries with the
// given reason. In-flight entries are left to finalize normally.
func (s *Store) CancelQueuedEntries(ctx context.Context, jobID id.JobID, reason string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_entries
		SET status = 'failed', last_error = ?, completed_at = ?,
		    held = 0, updated_at = ?
		WHERE job_id = ? AND status = 'queued'`,
		reason, now.UnixNano(), now.UnixNano(), jobID,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: cancel queued entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountEntries returns entry counts grouped by status.
func (s *Store) CountEntries(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM rotor_entries GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: count entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int)
	for rows.Next() {
		var (
			statusStr string
			n         int
		)
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan entry count: %w", err)
		}
		counts[queue.Status(statusStr)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate entry counts: %w", err)
	}
	return counts, nil
}

// getEntryTx loads an entry row inside tx.
func getEntryTx(ctx context.Context, tx *sql.Tx, entryID id.EntryID) (*queue.Entry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT
			id, job_id, tenant_id, job_type, payload, account_id,
			status, priority, retry_count, max_retries,
			not_before, held, worker_id,
			assigned_at, started_at, completed_at, last_error,
			created_at, updated_at
		FROM rotor_entries
		WHERE id = ?`,
		entryID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: load entry: %w", err)
	}
	return e, nil
}

// saveEntryTx writes back the fields release and finalize mutate.
func saveEntryTx(ctx context.Context, tx *sql.Tx, e *queue.Entry) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rotor_entries SET
			status = ?, account_id = ?, worker_id = ?, retry_count = ?,
			not_before = ?, assigned_at = ?, started_at = ?,
			completed_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(e.Status), e.AccountID, e.WorkerID, e.RetryCount,
		timeToNanos(e.NotBefore), timeToNanos(e.AssignedAt), timeToNanos(e.StartedAt),
		timeToNanos(e.CompletedAt), e.LastError, e.UpdatedAt.UnixNano(),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: save entry: %w", err)
	}
	return nil
}

// scanEntry scans a single entry row.
func scanEntry(row rowScanner) (*queue.Entry, error) {
	var (
		e           queue.Entry
		typeStr     string
		status      string
		notBefore   sql.NullInt64
		assignedNs  sql.NullInt64
		startedNs   sql.NullInt64
		completedNs sql.NullInt64
		createdNs   int64
		updatedNs   int64
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.TenantID, &typeStr, &e.Payload, &e.AccountID,
		&status, &e.Priority, &e.RetryCount, &e.MaxRetries,
		&notBefore, &e.Held, &e.WorkerID,
		&assignedNs, &startedNs, &completedNs, &e.LastError,
		&createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}

	e.JobType = account.JobType(typeStr)
	e.Status = queue.Status(status)
	e.NotBefore = nanosToTime(notBefore)
	e.AssignedAt = nanosToTime(assignedNs)
	e.StartedAt = nanosToTime(startedNs)
	e.CompletedAt = nanosToTime(completedNs)
	e.CreatedAt = fromNanos(createdNs)
	e.UpdatedAt = fromNanos(updatedNs)

	return &e, nil
}

// collectEntries collects all entries from query rows.
func collectEntries(rows *sql.Rows) ([]*queue.Entry, error) {
	var entries []*queue.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate entry rows: %w", err)
	}
	return entries, nil
}

package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/queue"
)

// EnqueueEntries stores a batch of new entries in one round trip.
func (s *Store) EnqueueEntries(ctx context.Context, entries []*queue.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	models := make([]*entryModel, len(entries))
	for i, e := range entries {
		models[i] = toEntryModel(e)
	}

	if _, err := s.db.NewInsert().Model(&models).Exec(ctx); err != nil {
		return fmt.Errorf("rotor/bun: enqueue entries: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*queue.Entry, error) {
	m := new(entryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/bun: get entry: %w", err)
	}
	return fromEntryModel(m), nil
}

// ListEntriesByJob returns all entries of a job, oldest first.
func (s *Store) ListEntriesByJob(ctx context.Context, jobID id.JobID) ([]*queue.Entry, error) {
	var models []entryModel
	err := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotor/bun: list entries by job: %w", err)
	}

	entries := make([]*queue.Entry, 0, len(models))
	for i := range models {
		entries = append(entries, fromEntryModel(&models[i]))
	}
	return entries, nil
}

// ClaimNext atomically claims the highest-priority, oldest claimable entry
// for a worker. SKIP LOCKED lets concurrent schedulers claim distinct rows
// instead of queueing on the same one.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*queue.Entry, error) {
	m := new(entryModel)
	err := s.db.NewRaw(`
		UPDATE rotor_entries
		SET status = 'assigned', worker_id = ?0, assigned_at = ?1, updated_at = ?1
		WHERE id IN (
			SELECT id FROM rotor_entries
			WHERE status = 'queued'
			  AND held = FALSE
			  AND (not_before IS NULL OR not_before <= ?1)
			ORDER BY priority ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		workerID, now,
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/bun: claim next entry: %w", err)
	}
	return fromEntryModel(m), nil
}

// MarkEntryProcessing transitions assigned → processing and persists the
// resolved account binding in the same write.
func (s *Store) MarkEntryProcessing(ctx context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_entries").
		Set("status = 'processing'").
		Set("account_id = ?", accountID).
		Set("started_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", entryID).
		Where("status = 'assigned'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: mark entry processing: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
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
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
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
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
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

	res, err := s.db.NewUpdate().
		TableExpr("rotor_entries").
		Set("status = 'queued'").
		Set("worker_id = NULL").
		Set("account_id = NULL").
		Set("assigned_at = NULL").
		Set("started_at = NULL").
		Set("updated_at = ?", now).
		Where("status IN ('assigned', 'processing')").
		Where("COALESCE(started_at, assigned_at, updated_at) <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: requeue orphans: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// HoldEntries excludes a job's queued entries from claiming.
func (s *Store) HoldEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_entries").
		Set("held = TRUE").
		Set("updated_at = NOW()").
		Where("job_id = ?", jobID).
		Where("status = 'queued'").
		Where("held = FALSE").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: hold entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// UnholdEntries puts a job's held entries back in claimable state.
func (s *Store) UnholdEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_entries").
		Set("held = FALSE").
		Set("updated_at = NOW()").
		Where("job_id = ?", jobID).
		Where("held = TRUE").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: unhold entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CancelQueuedEntries terminally fails a job's queued entries with the
// given reason. In-flight entries are left to finalize normally.
func (s *Store) CancelQueuedEntries(ctx context.Context, jobID id.JobID, reason string, now time.Time) (int64, error) {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_entries").
		Set("status = 'failed'").
		Set("last_error = ?", reason).
		Set("completed_at = ?", now).
		Set("held = FALSE").
		Set("updated_at = ?", now).
		Where("job_id = ?", jobID).
		Where("status = 'queued'").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: cancel queued entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountEntries returns entry counts grouped by status.
func (s *Store) CountEntries(ctx context.Context) (map[queue.Status]int, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewSelect().
		TableExpr("rotor_entries").
		ColumnExpr("status, COUNT(*) AS count").
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("rotor/bun: count entries: %w", err)
	}

	counts := make(map[queue.Status]int)
	for _, r := range rows {
		counts[queue.Status(r.Status)] = r.Count
	}
	return counts, nil
}

// getEntryForUpdate loads an entry row with FOR UPDATE inside tx.
func getEntryForUpdate(ctx context.Context, tx bun.Tx, entryID id.EntryID) (*queue.Entry, error) {
	m := new(entryModel)
	err := tx.NewSelect().Model(m).
		Where("id = ?", entryID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/bun: lock entry: %w", err)
	}
	return fromEntryModel(m), nil
}

// saveEntryTx writes back the fields release and finalize mutate.
func saveEntryTx(ctx context.Context, tx bun.Tx, e *queue.Entry) error {
	_, err := tx.NewUpdate().Model(toEntryModel(e)).
		Column("status", "account_id", "worker_id", "retry_count",
			"not_before", "assigned_at", "started_at",
			"completed_at", "last_error", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: save entry: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/recurring"
)

// RegisterRecurring persists a new schedule. Names are unique.
func (s *Store) RegisterRecurring(ctx context.Context, sc *recurring.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_recurring (
			id, name, tenant_id, expr, job_name, job_type, items,
			strategy, priority, max_retries, enabled,
			last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)`,
		sc.ID, sc.Name, sc.TenantID, sc.Expr, sc.JobName, string(sc.JobType), stringsToJSON(sc.Items),
		string(sc.Strategy), sc.Priority, sc.MaxRetries, sc.Enabled,
		timeToNanos(sc.LastRunAt), timeToNanos(sc.NextRunAt), sc.LockedBy, timeToNanos(sc.LockedUntil),
		sc.CreatedAt.UnixNano(), sc.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/sqlite: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a schedule by ID.
func (s *Store) GetRecurring(ctx context.Context, recurringID id.RecurringID) (*recurring.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, name, tenant_id, expr, job_name, job_type, items,
			strategy, priority, max_retries, enabled,
			last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		FROM rotor_recurring
		WHERE id = ?`,
		recurringID,
	)

	sc, err := scanRecurring(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: get recurring: %w", err)
	}
	return sc, nil
}

// ListRecurring returns all schedules.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, name, tenant_id, expr, job_name, job_type, items,
			strategy, priority, max_retries, enabled,
			last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		FROM rotor_recurring
		ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list recurring: %w", err)
	}
	defer rows.Close()

	var schedules []*recurring.Schedule
	for rows.Next() {
		sc, scanErr := scanRecurring(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan recurring row: %w", scanErr)
		}
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate recurring rows: %w", err)
	}
	return schedules, nil
}

// AcquireRecurringLock takes the firing lock for a schedule. The guard
// lets the lock be taken when free, expired, or already ours, so exactly
// one instance fires a due schedule.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_recurring
		SET locked_by = ?, locked_until = ?
		WHERE id = ?
		  AND (locked_by IS NULL OR locked_by = ? OR locked_until IS NULL OR locked_until <= ?)`,
		workerID, until.UnixNano(), recurringID, workerID, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("rotor/sqlite: acquire recurring lock: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		found, existsErr := s.exists(ctx, "rotor_recurring", recurringID)
		if existsErr != nil {
			return false, existsErr
		}
		if !found {
			return false, rotor.ErrRecurringNotFound
		}
		return false, nil
	}
	return true, nil
}

// ReleaseRecurringLock drops the firing lock if held by this worker.
// Releasing a lock someone else holds is a no-op.
func (s *Store) ReleaseRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_recurring
		SET locked_by = NULL, locked_until = NULL
		WHERE id = ? AND locked_by = ?`,
		recurringID, workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: release recurring lock: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		found, existsErr := s.exists(ctx, "rotor_recurring", recurringID)
		if existsErr != nil {
			return existsErr
		}
		if !found {
			return rotor.ErrRecurringNotFound
		}
	}
	return nil
}

// MarkRecurringRun records one firing and the next due time.
func (s *Store) MarkRecurringRun(ctx context.Context, recurringID id.RecurringID, ranAt, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_recurring
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		ranAt.UnixNano(), nextRun.UnixNano(), time.Now().UTC().UnixNano(), recurringID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: mark recurring run: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// UpdateRecurring persists edits to an existing schedule.
func (s *Store) UpdateRecurring(ctx context.Context, sc *recurring.Schedule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_recurring SET
			name = ?, tenant_id = ?, expr = ?, job_name = ?,
			job_type = ?, items = ?, strategy = ?, priority = ?,
			max_retries = ?, enabled = ?, last_run_at = ?,
			next_run_at = ?, locked_by = ?, locked_until = ?,
			updated_at = ?
		WHERE id = ?`,
		sc.Name, sc.TenantID, sc.Expr, sc.JobName,
		string(sc.JobType), stringsToJSON(sc.Items), string(sc.Strategy), sc.Priority,
		sc.MaxRetries, sc.Enabled, timeToNanos(sc.LastRunAt),
		timeToNanos(sc.NextRunAt), sc.LockedBy, timeToNanos(sc.LockedUntil),
		time.Now().UTC().UnixNano(), sc.ID,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/sqlite: update recurring: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// DeleteRecurring removes a schedule.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID id.RecurringID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rotor_recurring WHERE id = ?`,
		recurringID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: delete recurring: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// scanRecurring scans a single schedule row.
func scanRecurring(row rowScanner) (*recurring.Schedule, error) {
	var (
		sc          recurring.Schedule
		typeStr     string
		strategyStr string
		itemsJSON   string
		lastRunNs   sql.NullInt64
		nextRunNs   sql.NullInt64
		lockedNs    sql.NullInt64
		createdNs   int64
		updatedNs   int64
	)
	err := row.Scan(
		&sc.ID, &sc.Name, &sc.TenantID, &sc.Expr, &sc.JobName, &typeStr, &itemsJSON,
		&strategyStr, &sc.Priority, &sc.MaxRetries, &sc.Enabled,
		&lastRunNs, &nextRunNs, &sc.LockedBy, &lockedNs,
		&createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}

	sc.JobType = account.JobType(typeStr)
	sc.Strategy = account.Strategy(strategyStr)
	sc.Items = jsonToStrings(itemsJSON)
	sc.LastRunAt = nanosToTime(lastRunNs)
	sc.NextRunAt = nanosToTime(nextRunNs)
	sc.LockedUntil = nanosToTime(lockedNs)
	sc.CreatedAt = fromNanos(createdNs)
	sc.UpdatedAt = fromNanos(updatedNs)

	return &sc, nil
}

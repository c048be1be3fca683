package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/recurring"
)

// RegisterRecurring persists a new schedule. Names are unique.
func (s *Store) RegisterRecurring(ctx context.Context, sc *recurring.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_recurring (
			id, name, tenant_id, expr, job_name, job_type, items,
			strategy, priority, max_retries, enabled,
			last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17
		)`,
		sc.ID, sc.Name, sc.TenantID, sc.Expr, sc.JobName, string(sc.JobType), sc.Items,
		string(sc.Strategy), sc.Priority, sc.MaxRetries, sc.Enabled,
		sc.LastRunAt, sc.NextRunAt, sc.LockedBy, sc.LockedUntil,
		sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/postgres: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a schedule by ID.
func (s *Store) GetRecurring(ctx context.Context, recurringID id.RecurringID) (*recurring.Schedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, tenant_id, expr, job_name, job_type, items,
			strategy, priority, max_retries, enabled,
			last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		FROM rotor_recurring
		WHERE id = $1`,
		recurringID,
	)

	sc, err := scanRecurring(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: get recurring: %w", err)
	}
	return sc, nil
}

// ListRecurring returns all schedules.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, name, tenant_id, expr, job_name, job_type, items,
			strategy, priority, max_retries, enabled,
			last_run_at, next_run_at, locked_by, locked_until,
			created_at, updated_at
		FROM rotor_recurring
		ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list recurring: %w", err)
	}
	defer rows.Close()

	var schedules []*recurring.Schedule
	for rows.Next() {
		sc, scanErr := scanRecurring(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/postgres: scan recurring row: %w", scanErr)
		}
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate recurring rows: %w", err)
	}
	return schedules, nil
}

// AcquireRecurringLock takes the firing lock for a schedule. The guard
// lets the lock be taken when free, expired, or already ours, so exactly
// one instance fires a due schedule.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_recurring
		SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_by = $2 OR locked_until IS NULL OR locked_until <= $4)`,
		recurringID, workerID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("rotor/postgres: acquire recurring lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_recurring
		SET locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND locked_by = $2`,
		recurringID, workerID,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: release recurring lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_recurring
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1`,
		recurringID, ranAt, nextRun,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: mark recurring run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// UpdateRecurring persists edits to an existing schedule.
func (s *Store) UpdateRecurring(ctx context.Context, sc *recurring.Schedule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_recurring SET
			name = $2, tenant_id = $3, expr = $4, job_name = $5,
			job_type = $6, items = $7, strategy = $8, priority = $9,
			max_retries = $10, enabled = $11, last_run_at = $12,
			next_run_at = $13, locked_by = $14, locked_until = $15,
			updated_at = NOW()
		WHERE id = $1`,
		sc.ID, sc.Name, sc.TenantID, sc.Expr, sc.JobName,
		string(sc.JobType), sc.Items, string(sc.Strategy), sc.Priority,
		sc.MaxRetries, sc.Enabled, sc.LastRunAt,
		sc.NextRunAt, sc.LockedBy, sc.LockedUntil,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/postgres: update recurring: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// DeleteRecurring removes a schedule.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID id.RecurringID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rotor_recurring WHERE id = $1`,
		recurringID,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: delete recurring: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// scanRecurring scans a single schedule row.
func scanRecurring(row pgx.Row) (*recurring.Schedule, error) {
	var (
		sc          recurring.Schedule
		typeStr     string
		strategyStr string
	)
	err := row.Scan(
		&sc.ID, &sc.Name, &sc.TenantID, &sc.Expr, &sc.JobName, &typeStr, &sc.Items,
		&strategyStr, &sc.Priority, &sc.MaxRetries, &sc.Enabled,
		&sc.LastRunAt, &sc.NextRunAt, &sc.LockedBy, &sc.LockedUntil,
		&sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sc.JobType = account.JobType(typeStr)
	sc.Strategy = account.Strategy(strategyStr)

	return &sc, nil
}

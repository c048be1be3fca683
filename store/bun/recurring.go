package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/recurring"
)

// RegisterRecurring persists a new schedule. Names are unique.
func (s *Store) RegisterRecurring(ctx context.Context, sc *recurring.Schedule) error {
	m := toRecurringModel(sc)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/bun: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a schedule by ID.
func (s *Store) GetRecurring(ctx context.Context, recurringID id.RecurringID) (*recurring.Schedule, error) {
	m := new(recurringModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", recurringID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("rotor/bun: get recurring: %w", err)
	}
	return fromRecurringModel(m), nil
}

// ListRecurring returns all schedules.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Schedule, error) {
	var models []recurringModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotor/bun: list recurring: %w", err)
	}

	schedules := make([]*recurring.Schedule, 0, len(models))
	for i := range models {
		schedules = append(schedules, fromRecurringModel(&models[i]))
	}
	return schedules, nil
}

// AcquireRecurringLock takes the firing lock for a schedule. The guard
// lets the lock be taken when free, expired, or already ours, so exactly
// one instance fires a due schedule.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	res, err := s.db.NewUpdate().
		TableExpr("rotor_recurring").
		Set("locked_by = ?", workerID).
		Set("locked_until = ?", until).
		Where("id = ?", recurringID).
		Where("(locked_by IS NULL OR locked_by = ? OR locked_until IS NULL OR locked_until <= ?)", workerID, now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("rotor/bun: acquire recurring lock: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
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
	res, err := s.db.NewUpdate().
		TableExpr("rotor_recurring").
		Set("locked_by = NULL").
		Set("locked_until = NULL").
		Where("id = ?", recurringID).
		Where("locked_by = ?", workerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: release recurring lock: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
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
	res, err := s.db.NewUpdate().
		TableExpr("rotor_recurring").
		Set("last_run_at = ?", ranAt).
		Set("next_run_at = ?", nextRun).
		Set("updated_at = NOW()").
		Where("id = ?", recurringID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: mark recurring run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// UpdateRecurring persists edits to an existing schedule.
func (s *Store) UpdateRecurring(ctx context.Context, sc *recurring.Schedule) error {
	m := toRecurringModel(sc)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/bun: update recurring: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// DeleteRecurring removes a schedule.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID id.RecurringID) error {
	res, err := s.db.NewDelete().
		TableExpr("rotor_recurring").
		Where("id = ?", recurringID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: delete recurring: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

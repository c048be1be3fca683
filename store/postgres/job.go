package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
)

// CreateJob stores a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_jobs (
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`,
		j.ID, j.TenantID, j.Name, string(j.Type), string(j.Status), j.Items,
		j.Total, j.Processed, j.Successful, j.Failed,
		string(j.Strategy), j.MaxRetries, j.Priority, j.CreditCost,
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return rotor.ErrJobAlreadyExists
		}
		return fmt.Errorf("rotor/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		FROM rotor_jobs
		WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a tenant's jobs, newest first, optionally filtered by
// status.
func (s *Store) ListJobs(ctx context.Context, tenantID string, statuses ...job.Status) ([]*job.Job, error) {
	query := `
		SELECT
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		FROM rotor_jobs
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if len(statuses) > 0 {
		wanted := make([]string, len(statuses))
		for i, st := range statuses {
			wanted[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, wanted)
	}

	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// MarkJobRunning transitions pending → running under a row lock.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID, now time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		j, err := getJobForUpdate(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := j.MarkRunning(now); err != nil {
			return err
		}
		return saveJobTx(ctx, tx, j)
	})
}

// RecordEntryOutcome atomically counts one terminal entry outcome and
// returns the updated job. The row lock serializes workers finalizing
// entries of the same job, so the counters never lose an update.
func (s *Store) RecordEntryOutcome(ctx context.Context, jobID id.JobID, success bool, now time.Time) (*job.Job, error) {
	var updated *job.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		j, txErr := getJobForUpdate(ctx, tx, jobID)
		if txErr != nil {
			return txErr
		}
		job.ApplyEntryOutcome(j, success, now)
		if txErr := saveJobTx(ctx, tx, j); txErr != nil {
			return txErr
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// PauseJob moves the job into the paused side-state.
func (s *Store) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, func(j *job.Job) error {
		return j.Pause()
	})
}

// ResumeJob leaves the paused side-state.
func (s *Store) ResumeJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, func(j *job.Job) error {
		return j.Resume()
	})
}

// CancelJob withdraws an unfinished job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, func(j *job.Job) error {
		return j.Cancel(now)
	})
}

// transitionJob loads the job under a row lock, applies the transition,
// and persists the result.
func (s *Store) transitionJob(ctx context.Context, jobID id.JobID, apply func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		j, txErr := getJobForUpdate(ctx, tx, jobID)
		if txErr != nil {
			return txErr
		}
		if txErr := apply(j); txErr != nil {
			return txErr
		}
		if txErr := saveJobTx(ctx, tx, j); txErr != nil {
			return txErr
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// getJobForUpdate loads a job row with FOR UPDATE inside tx.
func getJobForUpdate(ctx context.Context, tx pgx.Tx, jobID id.JobID) (*job.Job, error) {
	row := tx.QueryRow(ctx, `
		SELECT
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		FROM rotor_jobs
		WHERE id = $1
		FOR UPDATE`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: lock job: %w", err)
	}
	return j, nil
}

// saveJobTx writes back the fields the lifecycle transitions and outcome
// counting mutate.
func saveJobTx(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE rotor_jobs SET
			status = $2, processed = $3, successful = $4, failed = $5,
			started_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1`,
		j.ID, string(j.Status), j.Processed, j.Successful, j.Failed,
		j.StartedAt, j.CompletedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: save job: %w", err)
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		typeStr     string
		statusStr   string
		strategyStr string
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Name, &typeStr, &statusStr, &j.Items,
		&j.Total, &j.Processed, &j.Successful, &j.Failed,
		&strategyStr, &j.MaxRetries, &j.Priority, &j.CreditCost,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = account.JobType(typeStr)
	j.Status = job.Status(statusStr)
	j.Strategy = account.Strategy(strategyStr)

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

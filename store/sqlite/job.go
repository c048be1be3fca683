package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
)

// CreateJob stores a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_jobs (
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?
		)`,
		j.ID, j.TenantID, j.Name, string(j.Type), string(j.Status), stringsToJSON(j.Items),
		j.Total, j.Processed, j.Successful, j.Failed,
		string(j.Strategy), j.MaxRetries, j.Priority, j.CreditCost,
		timeToNanos(j.StartedAt), timeToNanos(j.CompletedAt),
		j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(),
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return rotor.ErrJobAlreadyExists
		}
		return fmt.Errorf("rotor/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		FROM rotor_jobs
		WHERE id = ?`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: get job: %w", err)
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
		WHERE tenant_id = ?`
	args := []any{tenantID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}

	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// MarkJobRunning transitions pending → running inside a transaction.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		j, err := getJobTx(ctx, tx, jobID)
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
// returns the updated job. The transaction serializes workers finalizing
// entries of the same job, so the counters never lose an update.
func (s *Store) RecordEntryOutcome(ctx context.Context, jobID id.JobID, success bool, now time.Time) (*job.Job, error) {
	var updated *job.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		j, txErr := getJobTx(ctx, tx, jobID)
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

// transitionJob loads the job inside a transaction, applies the
// transition, and persists the result.
func (s *Store) transitionJob(ctx context.Context, jobID id.JobID, apply func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		j, txErr := getJobTx(ctx, tx, jobID)
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

// getJobTx loads a job row inside tx.
func getJobTx(ctx context.Context, tx *sql.Tx, jobID id.JobID) (*job.Job, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT
			id, tenant_id, name, type, status, items,
			total, processed, successful, failed,
			strategy, max_retries, priority, credit_cost,
			started_at, completed_at, created_at, updated_at
		FROM rotor_jobs
		WHERE id = ?`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: load job: %w", err)
	}
	return j, nil
}

// saveJobTx writes back the fields the lifecycle transitions and outcome
// counting mutate.
func saveJobTx(ctx context.Context, tx *sql.Tx, j *job.Job) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rotor_jobs SET
			status = ?, processed = ?, successful = ?, failed = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(j.Status), j.Processed, j.Successful, j.Failed,
		timeToNanos(j.StartedAt), timeToNanos(j.CompletedAt), j.UpdatedAt.UnixNano(),
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: save job: %w", err)
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		typeStr     string
		statusStr   string
		strategyStr string
		itemsJSON   string
		startedNs   sql.NullInt64
		completedNs sql.NullInt64
		createdNs   int64
		updatedNs   int64
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Name, &typeStr, &statusStr, &itemsJSON,
		&j.Total, &j.Processed, &j.Successful, &j.Failed,
		&strategyStr, &j.MaxRetries, &j.Priority, &j.CreditCost,
		&startedNs, &completedNs, &createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}

	j.Type = account.JobType(typeStr)
	j.Status = job.Status(statusStr)
	j.Strategy = account.Strategy(strategyStr)
	j.Items = jsonToStrings(itemsJSON)
	j.StartedAt = nanosToTime(startedNs)
	j.CompletedAt = nanosToTime(completedNs)
	j.CreatedAt = fromNanos(createdNs)
	j.UpdatedAt = fromNanos(updatedNs)

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

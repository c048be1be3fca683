package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
)

// CreateJob stores a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrJobAlreadyExists
		}
		return fmt.Errorf("rotor/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/bun: get job: %w", err)
	}
	return fromJobModel(m), nil
}

// ListJobs returns a tenant's jobs, newest first, optionally filtered by
// status.
func (s *Store) ListJobs(ctx context.Context, tenantID string, statuses ...job.Status) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID)

	if len(statuses) > 0 {
		wanted := make([]string, len(statuses))
		for i, st := range statuses {
			wanted[i] = string(st)
		}
		q = q.Where("status IN (?)", bun.In(wanted))
	}

	q = q.Order("created_at DESC", "id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rotor/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, fromJobModel(&models[i]))
	}
	return jobs, nil
}

// MarkJobRunning transitions pending → running under a row lock.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID, now time.Time) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
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
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
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
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
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
func getJobForUpdate(ctx context.Context, tx bun.Tx, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := tx.NewSelect().Model(m).
		Where("id = ?", jobID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/bun: lock job: %w", err)
	}
	return fromJobModel(m), nil
}

// saveJobTx writes back the fields the lifecycle transitions and outcome
// counting mutate.
func saveJobTx(ctx context.Context, tx bun.Tx, j *job.Job) error {
	_, err := tx.NewUpdate().Model(toJobModel(j)).
		Column("status", "processed", "successful", "failed",
			"started_at", "completed_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: save job: %w", err)
	}
	return nil
}

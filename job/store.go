package job

import (
	"context"
	"time"

	"github.com/xraph/rotor/id"
)

// Store is the persistence contract for jobs. Mutating operations must be
// atomic per job: two workers finalizing entries of the same job
// near-simultaneously must not lose counter updates.
type Store interface {
	// CreateJob stores a new job, or rotor.ErrJobAlreadyExists.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob returns a job by ID, or rotor.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns a tenant's jobs, optionally filtered by status.
	// Newest first.
	ListJobs(ctx context.Context, tenantID string, statuses ...Status) ([]*Job, error)

	// MarkJobRunning transitions pending → running (no-op when already
	// running) and stamps StartedAt.
	MarkJobRunning(ctx context.Context, jobID id.JobID, now time.Time) error

	// RecordEntryOutcome atomically counts one terminal entry outcome
	// (see ApplyEntryOutcome) and returns the updated job.
	RecordEntryOutcome(ctx context.Context, jobID id.JobID, success bool, now time.Time) (*Job, error)

	// PauseJob moves the job into the paused side-state.
	PauseJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ResumeJob leaves the paused side-state.
	ResumeJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// CancelJob withdraws an unfinished job.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)
}

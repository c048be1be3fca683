package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
)

// CreateJob stores a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.Collection(collJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrJobAlreadyExists
		}
		return fmt.Errorf("rotor/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(collJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rotor.ErrJobNotFound
		}
		return nil, fmt.Errorf("rotor/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobs returns a tenant's jobs, newest first, optionally filtered by
// status.
func (s *Store) ListJobs(ctx context.Context, tenantID string, statuses ...job.Status) ([]*job.Job, error) {
	filter := bson.M{"tenant_id": tenantID}
	if len(statuses) > 0 {
		wanted := make([]string, len(statuses))
		for i, st := range statuses {
			wanted[i] = string(st)
		}
		filter["status"] = bson.M{"$in": wanted}
	}

	cursor, err := s.db.Collection(collJobs).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// MarkJobRunning transitions pending → running.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID, now time.Time) error {
	_, err := s.transitionJob(ctx, jobID, "mark job running", func(j *job.Job) error {
		return j.MarkRunning(now)
	})
	return err
}

// RecordEntryOutcome atomically counts one terminal entry outcome and
// returns the updated job. Workers finalizing entries of the same job
// contend on the version swap, so the counters never lose an update.
func (s *Store) RecordEntryOutcome(ctx context.Context, jobID id.JobID, success bool, now time.Time) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, "record entry outcome", func(j *job.Job) error {
		job.ApplyEntryOutcome(j, success, now)
		return nil
	})
}

// PauseJob moves the job into the paused side-state.
func (s *Store) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, "pause job", func(j *job.Job) error {
		return j.Pause()
	})
}

// ResumeJob leaves the paused side-state.
func (s *Store) ResumeJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, "resume job", func(j *job.Job) error {
		return j.Resume()
	})
}

// CancelJob withdraws an unfinished job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	return s.transitionJob(ctx, jobID, "cancel job", func(j *job.Job) error {
		return j.Cancel(now)
	})
}

// transitionJob loads the job, applies the transition, and writes it back
// under the version compare-and-swap, reloading on conflict.
func (s *Store) transitionJob(ctx context.Context, jobID id.JobID, op string, apply func(*job.Job) error) (*job.Job, error) {
	coll := s.db.Collection(collJobs)

	for range casRetries {
		var m jobModel
		err := coll.FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return nil, rotor.ErrJobNotFound
			}
			return nil, fmt.Errorf("rotor/mongo: %s: %w", op, err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		if applyErr := apply(j); applyErr != nil {
			return nil, applyErr
		}

		next := toJobModel(j)
		next.Version = m.Version + 1

		res, repErr := coll.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": m.Version}, next)
		if repErr != nil {
			return nil, fmt.Errorf("rotor/mongo: %s: %w", op, repErr)
		}
		if res.MatchedCount > 0 {
			return j, nil
		}
	}
	return nil, fmt.Errorf("rotor/mongo: %s on %s: version conflict persisted after %d retries", op, jobID, casRetries)
}

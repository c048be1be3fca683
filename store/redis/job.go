package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
)

// CreateJob stores the job as a Hash and indexes it for its tenant.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: create job exists: %w", err)
	}
	if exists > 0 {
		return rotor.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, tenantJobsKey(j.TenantID), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// ListJobs returns a tenant's jobs, optionally filtered by status, newest
// first.
func (s *Store) ListJobs(ctx context.Context, tenantID string, statuses ...job.Status) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, tenantJobsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if len(statuses) > 0 && !hasStatus(statuses, j.Status) {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID.String() > jobs[j].ID.String()
	})
	return jobs, nil
}

// MarkJobRunning transitions a pending job to running. It is a no-op when
// the job already runs.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID, now time.Time) error {
	_, err := s.mutateJob(ctx, jobID, func(j *job.Job) error {
		return j.MarkRunning(now)
	})
	return err
}

// RecordEntryOutcome folds one finished entry into the job's counters,
// finalizing the job when the last entry lands.
func (s *Store) RecordEntryOutcome(ctx context.Context, jobID id.JobID, success bool, now time.Time) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) error {
		job.ApplyEntryOutcome(j, success, now)
		return nil
	})
}

// PauseJob moves the job into the paused side-state.
func (s *Store) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) error {
		return j.Pause()
	})
}

// ResumeJob leaves the paused side-state.
func (s *Store) ResumeJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) error {
		return j.Resume()
	})
}

// CancelJob withdraws a job that has not finished.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) error {
		return j.Cancel(now)
	})
}

// ── helpers ──

// mutateJob loads the job, applies fn, and writes the result back. There
// is no lock around the read-modify-write: concurrent mutations of one
// job are last-writer-wins.
func (s *Store) mutateJob(ctx context.Context, jobID id.JobID, fn func(*job.Job) error) (*job.Job, error) {
	key := jobKey(jobID.String())
	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	if _, err := s.client.HSet(ctx, key, jobToMap(j)).Result(); err != nil {
		return nil, fmt.Errorf("rotor/redis: save job: %w", err)
	}
	return j, nil
}

func hasStatus(statuses []job.Status, st job.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":           j.ID.String(),
		"tenant_id":    j.TenantID,
		"name":         j.Name,
		"type":         string(j.Type),
		"status":       string(j.Status),
		"items":        marshalJSON(j.Items),
		"total":        strconv.Itoa(j.Total),
		"processed":    strconv.Itoa(j.Processed),
		"successful":   strconv.Itoa(j.Successful),
		"failed":       strconv.Itoa(j.Failed),
		"strategy":     string(j.Strategy),
		"max_retries":  strconv.Itoa(j.MaxRetries),
		"priority":     strconv.Itoa(j.Priority),
		"credit_cost":  strconv.Itoa(j.CreditCost),
		"started_at":   timeToStr(j.StartedAt),
		"completed_at": timeToStr(j.CompletedAt),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, rotor.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse job id: %w", err)
	}

	total, _ := strconv.Atoi(m["total"])                          //nolint:errcheck // best-effort parse from trusted Redis data
	processed, _ := strconv.Atoi(m["processed"])                  //nolint:errcheck // best-effort parse from trusted Redis data
	successful, _ := strconv.Atoi(m["successful"])                //nolint:errcheck // best-effort parse from trusted Redis data
	failed, _ := strconv.Atoi(m["failed"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	creditCost, _ := strconv.Atoi(m["credit_cost"])               //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &job.Job{
		Entity: rotor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		TenantID:    m["tenant_id"],
		Name:        m["name"],
		Type:        account.JobType(m["type"]),
		Status:      job.Status(m["status"]),
		Items:       unmarshalStrings(m["items"]),
		Total:       total,
		Processed:   processed,
		Successful:  successful,
		Failed:      failed,
		Strategy:    account.Strategy(m["strategy"]),
		MaxRetries:  maxRetries,
		Priority:    priority,
		CreditCost:  creditCost,
		StartedAt:   strToTime(m["started_at"]),
		CompletedAt: strToTime(m["completed_at"]),
	}, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}

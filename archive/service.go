// Package archive preserves terminally failed queue entries for
// inspection and replay. The executor pushes an entry here when its
// retry budget is spent or the failure is permanent; operators list,
// replay, or purge records through the Service.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// Service provides high-level archive operations over a Store.
type Service struct {
	store   Store
	jobs    job.Store
	entries queue.Store
	logger  *slog.Logger
	wake    func()
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service's logger.
func WithServiceLogger(lg *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = lg }
}

// WithWake registers a callback fired after a replay enqueues work, so
// the scheduler picks it up immediately.
func WithWake(wake func()) ServiceOption {
	return func(s *Service) { s.wake = wake }
}

// WithServiceClock injects the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates an archive service.
func NewService(store Store, jobs job.Store, entries queue.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		jobs:    jobs,
		entries: entries,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ArchiveEntry builds a Record from a terminally failed entry and
// persists it. The originating job fills in name and strategy when it
// can still be found; archival proceeds without them when it cannot.
func (s *Service) ArchiveEntry(ctx context.Context, e *queue.Entry, reason string) error {
	now := s.now()
	rec := &Record{
		ID:         id.NewArchiveID(),
		EntryID:    e.ID,
		JobID:      e.JobID,
		TenantID:   e.TenantID,
		JobType:    e.JobType,
		Payload:    e.Payload,
		AccountID:  e.AccountID,
		Reason:     reason,
		RetryCount: e.RetryCount,
		MaxRetries: e.MaxRetries,
		Priority:   e.Priority,
		FailedAt:   now,
		CreatedAt:  now,
	}

	if j, err := s.jobs.GetJob(ctx, e.JobID); err == nil {
		rec.JobName = j.Name
		rec.Strategy = j.Strategy
	} else {
		s.logger.Warn("archiving without job context",
			"entry_id", e.ID.String(),
			"job_id", e.JobID.String(),
			"error", err)
	}

	if err := s.store.PushArchive(ctx, rec); err != nil {
		return fmt.Errorf("push archive: %w", err)
	}
	return nil
}

// Get returns one archive record.
func (s *Service) Get(ctx context.Context, archiveID id.ArchiveID) (*Record, error) {
	return s.store.GetArchive(ctx, archiveID)
}

// List returns archive records matching the options, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Record, error) {
	return s.store.ListArchive(ctx, opts)
}

// Purge removes records that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeArchive(ctx, before)
}

// Count returns the total number of archive records.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountArchive(ctx)
}

// Store returns the underlying archive store.
func (s *Service) Store() Store { return s.store }

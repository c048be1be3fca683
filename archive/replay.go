package archive

import (
	"context"
	"fmt"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// Replay re-enqueues an archived work item as a fresh single-item job
// with a full retry budget and no credit charge, and marks the record
// replayed. The new job inherits the original's type, strategy,
// priority, and retry ceiling. Replaying twice is refused.
func (s *Service) Replay(ctx context.Context, archiveID id.ArchiveID) (*queue.Entry, error) {
	rec, err := s.store.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if rec.Replayed() {
		return nil, rotor.ErrAlreadyReplayed
	}

	name := rec.JobName
	if name == "" {
		name = "replay"
	}
	opts := []job.Option{
		job.WithMaxRetries(rec.MaxRetries),
		job.WithPriority(rec.Priority),
		job.WithCreditCost(0),
	}
	if rec.Strategy.Valid() {
		opts = append(opts, job.WithStrategy(rec.Strategy))
	}

	j, err := job.New(rec.TenantID, name, rec.JobType, []string{rec.Payload}, opts...)
	if err != nil {
		return nil, fmt.Errorf("build replay job: %w", err)
	}
	if err := s.jobs.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create replay job: %w", err)
	}

	e := queue.New(j.ID, j.TenantID, j.Type, rec.Payload, j.Priority, j.MaxRetries)
	if err := s.entries.EnqueueEntries(ctx, []*queue.Entry{e}); err != nil {
		return nil, fmt.Errorf("enqueue replay entry: %w", err)
	}

	if err := s.store.MarkReplayed(ctx, archiveID, s.now()); err != nil {
		// The work is already enqueued; the record just looks unreplayed.
		s.logger.Error("replay mark failed",
			"archive_id", archiveID.String(),
			"job_id", j.ID.String(),
			"error", err)
		return e, err
	}

	s.logger.Info("archived entry replayed",
		"archive_id", archiveID.String(),
		"job_id", j.ID.String(),
		"entry_id", e.ID.String(),
		"tenant_id", rec.TenantID)
	if s.wake != nil {
		s.wake()
	}
	return e, nil
}

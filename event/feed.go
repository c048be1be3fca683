package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// Feed is the extension that appends lifecycle events to the store.
// Register it and every job gets a queryable history.
type Feed struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedLogger sets the feed's logger.
func WithFeedLogger(lg *slog.Logger) FeedOption {
	return func(f *Feed) { f.logger = lg }
}

// WithFeedClock injects the time source.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *Feed) { f.now = now }
}

// NewFeed creates the feed extension over an event store.
func NewFeed(store Store, opts ...FeedOption) *Feed {
	f := &Feed{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements ext.Extension.
func (f *Feed) Name() string { return "event-feed" }

func (f *Feed) append(ctx context.Context, evt *Event) error {
	evt.ID = id.NewEventID()
	evt.CreatedAt = f.now()
	if err := f.store.AppendEvent(ctx, evt); err != nil {
		f.logger.Warn("event append failed",
			"event", string(evt.Name),
			"job_id", evt.JobID.String(),
			"error", err)
	}
	return nil
}

// OnJobEnqueued implements ext.JobEnqueued.
func (f *Feed) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return f.append(ctx, &Event{
		JobID:    j.ID,
		TenantID: j.TenantID,
		Name:     JobEnqueued,
		Detail:   fmt.Sprintf("%d items", j.Total),
	})
}

// OnJobStarted implements ext.JobStarted.
func (f *Feed) OnJobStarted(ctx context.Context, j *job.Job) error {
	return f.append(ctx, &Event{JobID: j.ID, TenantID: j.TenantID, Name: JobStarted})
}

// OnJobCompleted implements ext.JobCompleted.
func (f *Feed) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return f.append(ctx, &Event{
		JobID:    j.ID,
		TenantID: j.TenantID,
		Name:     JobCompleted,
		Detail:   fmt.Sprintf("%d succeeded, %d failed in %s", j.Successful, j.Failed, elapsed.Round(time.Millisecond)),
	})
}

// OnJobFailed implements ext.JobFailed.
func (f *Feed) OnJobFailed(ctx context.Context, j *job.Job) error {
	return f.append(ctx, &Event{
		JobID:    j.ID,
		TenantID: j.TenantID,
		Name:     JobFailed,
		Detail:   fmt.Sprintf("all %d items failed", j.Failed),
	})
}

// OnJobPaused implements ext.JobPaused.
func (f *Feed) OnJobPaused(ctx context.Context, j *job.Job) error {
	return f.append(ctx, &Event{JobID: j.ID, TenantID: j.TenantID, Name: JobPaused})
}

// OnJobResumed implements ext.JobResumed.
func (f *Feed) OnJobResumed(ctx context.Context, j *job.Job) error {
	return f.append(ctx, &Event{JobID: j.ID, TenantID: j.TenantID, Name: JobResumed})
}

// OnEntryCompleted implements ext.EntryCompleted.
func (f *Feed) OnEntryCompleted(ctx context.Context, e *queue.Entry, elapsed time.Duration) error {
	return f.append(ctx, &Event{
		JobID:     e.JobID,
		TenantID:  e.TenantID,
		Name:      EntryCompleted,
		EntryID:   e.ID,
		AccountID: e.AccountID,
		Detail:    elapsed.Round(time.Millisecond).String(),
	})
}

// OnEntryFailed implements ext.EntryFailed.
func (f *Feed) OnEntryFailed(ctx context.Context, e *queue.Entry, willRetry bool, entryErr error) error {
	detail := "terminal"
	if willRetry {
		detail = fmt.Sprintf("retry %d/%d", e.RetryCount, e.MaxRetries)
	}
	if entryErr != nil {
		detail += ": " + entryErr.Error()
	}
	return f.append(ctx, &Event{
		JobID:     e.JobID,
		TenantID:  e.TenantID,
		Name:      EntryFailed,
		EntryID:   e.ID,
		AccountID: e.AccountID,
		Detail:    detail,
	})
}

// OnEntryArchived implements ext.EntryArchived.
func (f *Feed) OnEntryArchived(ctx context.Context, e *queue.Entry, reason string) error {
	return f.append(ctx, &Event{
		JobID:    e.JobID,
		TenantID: e.TenantID,
		Name:     EntryArchived,
		EntryID:  e.ID,
		Detail:   reason,
	})
}

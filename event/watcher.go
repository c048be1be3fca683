package event

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/rotor/id"
)

const (
	// DefaultWatchInterval is how often a watch polls for new events.
	DefaultWatchInterval = time.Second

	// watchBuffer is the delivery channel capacity. A slow reader
	// backpressures the poll loop rather than dropping events.
	watchBuffer = 16
)

// Watcher follows a job's feed by polling the store, so it works
// unchanged whether the events were appended in this process or by
// another worker sharing the store.
type Watcher struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the poll interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(lg *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = lg }
}

// NewWatcher creates a watcher over an event store.
func NewWatcher(store Store, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:    store,
		interval: DefaultWatchInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch streams a job's events in append order on the returned channel
// until ctx is canceled. Events already in the feed are delivered first,
// then new ones as they land. The channel is closed when the watch ends.
func (w *Watcher) Watch(ctx context.Context, jobID id.JobID) <-chan *Event {
	out := make(chan *Event, watchBuffer)
	go w.poll(ctx, jobID, out)
	return out
}

func (w *Watcher) poll(ctx context.Context, jobID id.JobID, out chan<- *Event) {
	defer close(out)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := id.Nil
	for {
		evts, err := w.store.ListEventsByJob(ctx, jobID, last, 0)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Warn("event poll failed", "job_id", jobID.String(), "error", err)
		}
		for _, evt := range evts {
			select {
			case out <- evt:
				last = evt.ID
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package event_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/store/memory"
)

func appendEvent(t *testing.T, s *memory.Store, jobID id.JobID, name event.Name, detail string) {
	t.Helper()
	err := s.AppendEvent(context.Background(), &event.Event{
		ID:        id.NewEventID(),
		JobID:     jobID,
		TenantID:  "tenant-a",
		Name:      name,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
}

func receiveEvent(t *testing.T, ch <-chan *event.Event) *event.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed early")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return nil
}

func TestWatcher_DeliversExistingThenNew(t *testing.T) {
	s := memory.New()
	w := event.NewWatcher(s, event.WithWatchInterval(10*time.Millisecond))
	jobID := id.NewJobID()
	other := id.NewJobID()

	appendEvent(t, s, jobID, event.JobEnqueued, "2 items")
	appendEvent(t, s, other, event.JobEnqueued, "someone else's job")
	appendEvent(t, s, jobID, event.JobStarted, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := w.Watch(ctx, jobID)

	if evt := receiveEvent(t, ch); evt.Name != event.JobEnqueued {
		t.Errorf("first event = %q, want %q", evt.Name, event.JobEnqueued)
	}
	if evt := receiveEvent(t, ch); evt.Name != event.JobStarted {
		t.Errorf("second event = %q, want %q", evt.Name, event.JobStarted)
	}

	// An event appended while the watch is live arrives on a later poll.
	appendEvent(t, s, jobID, event.JobCompleted, "2 succeeded, 0 failed")
	evt := receiveEvent(t, ch)
	if evt.Name != event.JobCompleted {
		t.Errorf("live event = %q, want %q", evt.Name, event.JobCompleted)
	}
	if evt.JobID != jobID {
		t.Error("watch leaked another job's event")
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	s := memory.New()
	w := event.NewWatcher(s, event.WithWatchInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	ch := w.Watch(ctx, id.NewJobID())
	cancel()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel did not close after cancel")
		}
	}
}

func TestWatcher_SlowReaderLosesNothing(t *testing.T) {
	s := memory.New()
	w := event.NewWatcher(s, event.WithWatchInterval(10*time.Millisecond))
	jobID := id.NewJobID()

	// Well past the delivery buffer: the poll loop must block on the
	// reader, not drop.
	const total = 40
	for i := range total {
		appendEvent(t, s, jobID, event.EntryCompleted, fmt.Sprintf("item %d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := w.Watch(ctx, jobID)

	time.Sleep(100 * time.Millisecond)
	for i := range total {
		evt := receiveEvent(t, ch)
		if want := fmt.Sprintf("item %d", i); evt.Detail != want {
			t.Fatalf("event %d = %q, want %q", i, evt.Detail, want)
		}
	}
}

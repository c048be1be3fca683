package event

import (
	"context"

	"github.com/xraph/rotor/id"
)

// Store defines the persistence contract for the event feed.
type Store interface {
	// AppendEvent persists one feed item.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEventsByJob returns a job's events in append order, strictly
	// after the given event ID. A nil after starts from the beginning.
	// Limit zero means no limit.
	ListEventsByJob(ctx context.Context, jobID id.JobID, after id.EventID, limit int) ([]*Event, error)
}

package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
)

// AppendEvent persists one feed item. The seq column assigned on insert
// preserves append order for the cursor reads.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: append event: %w", err)
	}
	return nil
}

// ListEventsByJob returns a job's events in append order, strictly after
// the given event ID. An unknown cursor yields no rows: the subquery is
// empty so nothing compares greater.
func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, after id.EventID, limit int) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID)

	if !after.IsNil() {
		q = q.Where("seq > (SELECT seq FROM rotor_events WHERE id = ?)", after)
	}

	q = q.Order("seq ASC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rotor/bun: list events by job: %w", err)
	}

	events := make([]*event.Event, 0, len(models))
	for i := range models {
		events = append(events, fromEventModel(&models[i]))
	}
	return events, nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
)

// eventModel is the msgpack wire form of an event. IDs travel as strings
// since their inner representation is not exported.
type eventModel struct {
	ID        string    `msgpack:"id"`
	JobID     string    `msgpack:"job_id"`
	TenantID  string    `msgpack:"tenant_id"`
	Name      string    `msgpack:"name"`
	EntryID   string    `msgpack:"entry_id,omitempty"`
	AccountID string    `msgpack:"account_id,omitempty"`
	Detail    string    `msgpack:"detail,omitempty"`
	CreatedAt time.Time `msgpack:"created_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:        evt.ID.String(),
		JobID:     evt.JobID.String(),
		TenantID:  evt.TenantID,
		Name:      string(evt.Name),
		EntryID:   evt.EntryID.String(),
		AccountID: evt.AccountID.String(),
		Detail:    evt.Detail,
		CreatedAt: evt.CreatedAt,
	}
}

func fromEventModel(e *eventModel) (*event.Event, error) {
	eID, err := id.Parse(e.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse event id: %w", err)
	}

	evt := &event.Event{
		ID:        eID,
		TenantID:  e.TenantID,
		Name:      event.Name(e.Name),
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
	evt.JobID, _ = id.ParseJobID(e.JobID) //nolint:errcheck // best-effort parse from trusted Redis data
	if e.EntryID != "" {
		evt.EntryID, _ = id.ParseEntryID(e.EntryID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if e.AccountID != "" {
		evt.AccountID, _ = id.ParseAccountID(e.AccountID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return evt, nil
}

// AppendEvent encodes the event as msgpack and appends it to the job's
// feed. The List preserves append order, which is the feed's contract.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	eID := evt.ID.String()
	blob, err := msgpack.Marshal(toEventModel(evt))
	if err != nil {
		return fmt.Errorf("rotor/redis: encode event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKey(eID), blob, 0)
	pipe.RPush(ctx, jobEventsKey(evt.JobID.String()), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: append event: %w", err)
	}
	return nil
}

// ListEventsByJob returns a job's events in append order, starting after
// the given cursor. An unknown cursor yields no events.
func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, after id.EventID, limit int) ([]*event.Event, error) {
	ids, err := s.client.LRange(ctx, jobEventsKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list events: %w", err)
	}

	start := 0
	if !after.IsNil() {
		cursor := after.String()
		start = len(ids) // unknown cursor reads past the end
		for i, eID := range ids {
			if eID == cursor {
				start = i + 1
				break
			}
		}
	}

	events := make([]*event.Event, 0)
	for _, eID := range ids[start:] {
		if limit > 0 && len(events) >= limit {
			break
		}
		evt, getErr := s.getEvent(ctx, eID)
		if getErr != nil {
			continue // skip missing
		}
		events = append(events, evt)
	}
	return events, nil
}

func (s *Store) getEvent(ctx context.Context, eID string) (*event.Event, error) {
	blob, err := s.client.Get(ctx, eventKey(eID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get event: %w", err)
	}
	var e eventModel
	if err := msgpack.Unmarshal(blob, &e); err != nil {
		return nil, fmt.Errorf("rotor/redis: decode event: %w", err)
	}
	return fromEventModel(&e)
}

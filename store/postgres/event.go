package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
)

// AppendEvent persists one feed item. The seq column assigned on insert
// preserves append order for the cursor reads.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_events (
			id, job_id, tenant_id, name, entry_id, account_id, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID, evt.JobID, evt.TenantID, string(evt.Name),
		evt.EntryID, evt.AccountID, evt.Detail, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: append event: %w", err)
	}
	return nil
}

// ListEventsByJob returns a job's events in append order, strictly after
// the given event ID. An unknown cursor yields no rows: the subquery is
// empty so nothing compares greater.
func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, after id.EventID, limit int) ([]*event.Event, error) {
	query := `
		SELECT
			id, job_id, tenant_id, name, entry_id, account_id, detail, created_at
		FROM rotor_events
		WHERE job_id = $1`
	args := []any{jobID}
	argIdx := 2

	if !after.IsNil() {
		query += fmt.Sprintf(" AND seq > (SELECT seq FROM rotor_events WHERE id = $%d)", argIdx)
		args = append(args, after)
		argIdx++
	}

	query += " ORDER BY seq ASC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list events by job: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/postgres: scan event row: %w", scanErr)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

// scanEvent scans a single event row.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt     event.Event
		nameStr string
	)
	err := row.Scan(
		&evt.ID, &evt.JobID, &evt.TenantID, &nameStr,
		&evt.EntryID, &evt.AccountID, &evt.Detail, &evt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	evt.Name = event.Name(nameStr)

	return &evt, nil
}

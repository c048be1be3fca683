package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// AppendUsage stores one attempt record.
func (s *Store) AppendUsage(ctx context.Context, rec *account.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_usage (
			id, account_id, job_id, entry_id, tenant_id,
			success, class, latency, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.AccountID, rec.JobID, rec.EntryID, rec.TenantID,
		rec.Success, string(rec.Class), rec.Latency.Nanoseconds(), rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: append usage: %w", err)
	}
	return nil
}

// ListUsage returns records for an account recorded at or after since,
// newest first.
func (s *Store) ListUsage(ctx context.Context, accountID id.AccountID, since time.Time, limit int) ([]*account.UsageRecord, error) {
	query := `
		SELECT
			id, account_id, job_id, entry_id, tenant_id,
			success, class, latency, recorded_at
		FROM rotor_usage
		WHERE account_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC, id DESC`
	args := []any{accountID, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list usage: %w", err)
	}
	defer rows.Close()

	var records []*account.UsageRecord
	for rows.Next() {
		rec, scanErr := scanUsage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/postgres: scan usage row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate usage rows: %w", err)
	}
	return records, nil
}

// PruneUsage deletes records recorded before the cutoff.
func (s *Store) PruneUsage(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rotor_usage WHERE recorded_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: prune usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanUsage scans a single usage row.
func scanUsage(row pgx.Row) (*account.UsageRecord, error) {
	var (
		rec       account.UsageRecord
		classStr  string
		latencyNs int64
	)
	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.JobID, &rec.EntryID, &rec.TenantID,
		&rec.Success, &classStr, &latencyNs, &rec.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Class = rotor.Class(classStr)
	rec.Latency = time.Duration(latencyNs)

	return &rec, nil
}

package sqlite

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// AppendUsage stores one attempt record.
func (s *Store) AppendUsage(ctx context.Context, rec *account.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_usage (
			id, account_id, job_id, entry_id, tenant_id,
			success, class, latency, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, rec.JobID, rec.EntryID, rec.TenantID,
		rec.Success, string(rec.Class), rec.Latency.Nanoseconds(), rec.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: append usage: %w", err)
	}
	return nil
}

// ListUsage returns records for an account recorded at or after since,
// newest first.
func (s *Store) ListUsage(ctx context.Context, accountID id.AccountID, since time.Time, limit int) ([]*account.UsageRecord, error) {
	// The zero time overflows UnixNano; floor the filter instead.
	sinceNs := int64(math.MinInt64)
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}

	query := `
		SELECT
			id, account_id, job_id, entry_id, tenant_id,
			success, class, latency, recorded_at
		FROM rotor_usage
		WHERE account_id = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC, id DESC`
	args := []any{accountID, sinceNs}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list usage: %w", err)
	}
	defer rows.Close()

	var records []*account.UsageRecord
	for rows.Next() {
		rec, scanErr := scanUsage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan usage row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate usage rows: %w", err)
	}
	return records, nil
}

// PruneUsage deletes records recorded before the cutoff.
func (s *Store) PruneUsage(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rotor_usage WHERE recorded_at < ?`,
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: prune usage: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// scanUsage scans a single usage row.
func scanUsage(row rowScanner) (*account.UsageRecord, error) {
	var (
		rec        account.UsageRecord
		classStr   string
		latencyNs  int64
		recordedNs int64
	)
	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.JobID, &rec.EntryID, &rec.TenantID,
		&rec.Success, &classStr, &latencyNs, &recordedNs,
	)
	if err != nil {
		return nil, err
	}

	rec.Class = rotor.Class(classStr)
	rec.Latency = time.Duration(latencyNs)
	rec.RecordedAt = fromNanos(recordedNs)

	return &rec, nil
}

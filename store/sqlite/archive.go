package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/id"
)

// PushArchive persists a new archive record.
func (s *Store) PushArchive(ctx context.Context, rec *archive.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_archive (
			id, entry_id, job_id, job_name, tenant_id, job_type,
			payload, account_id, reason,
			retry_count, max_retries, priority, strategy,
			failed_at, replayed_at, created_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?
		)`,
		rec.ID, rec.EntryID, rec.JobID, rec.JobName, rec.TenantID, string(rec.JobType),
		rec.Payload, rec.AccountID, rec.Reason,
		rec.RetryCount, rec.MaxRetries, rec.Priority, string(rec.Strategy),
		rec.FailedAt.UnixNano(), timeToNanos(rec.ReplayedAt), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: push archive: %w", err)
	}
	return nil
}

// GetArchive retrieves a record by ID.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, entry_id, job_id, job_name, tenant_id, job_type,
			payload, account_id, reason,
			retry_count, max_retries, priority, strategy,
			failed_at, replayed_at, created_at
		FROM rotor_archive
		WHERE id = ?`,
		archiveID,
	)

	rec, err := scanArchive(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: get archive: %w", err)
	}
	return rec, nil
}

// ListArchive returns records matching the options, newest failures first.
func (s *Store) ListArchive(ctx context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	query := `
		SELECT
			id, entry_id, job_id, job_name, tenant_id, job_type,
			payload, account_id, reason,
			retry_count, max_retries, priority, strategy,
			failed_at, replayed_at, created_at
		FROM rotor_archive
		WHERE 1=1`
	args := []any{}

	if opts.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if !opts.JobID.IsNil() {
		query += " AND job_id = ?"
		args = append(args, opts.JobID)
	}

	query += " ORDER BY failed_at DESC, id DESC"

	// SQLite accepts OFFSET only after a LIMIT clause; -1 means unlimited.
	switch {
	case opts.Limit > 0:
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list archive: %w", err)
	}
	defer rows.Close()

	var records []*archive.Record
	for rows.Next() {
		rec, scanErr := scanArchive(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan archive row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate archive rows: %w", err)
	}
	return records, nil
}

// MarkReplayed stamps a record as replayed.
func (s *Store) MarkReplayed(ctx context.Context, archiveID id.ArchiveID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rotor_archive SET replayed_at = ? WHERE id = ?`,
		at.UnixNano(), archiveID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: mark replayed: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrArchiveNotFound
	}
	return nil
}

// PurgeArchive removes records that failed before the given time.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rotor_archive WHERE failed_at < ?`,
		before.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: purge archive: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountArchive returns the total number of archive records.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rotor_archive`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rotor/sqlite: count archive: %w", err)
	}
	return count, nil
}

// scanArchive scans a single archive row.
func scanArchive(row rowScanner) (*archive.Record, error) {
	var (
		rec         archive.Record
		typeStr     string
		strategyStr string
		failedNs    int64
		replayedNs  sql.NullInt64
		createdNs   int64
	)
	err := row.Scan(
		&rec.ID, &rec.EntryID, &rec.JobID, &rec.JobName, &rec.TenantID, &typeStr,
		&rec.Payload, &rec.AccountID, &rec.Reason,
		&rec.RetryCount, &rec.MaxRetries, &rec.Priority, &strategyStr,
		&failedNs, &replayedNs, &createdNs,
	)
	if err != nil {
		return nil, err
	}

	rec.JobType = account.JobType(typeStr)
	rec.Strategy = account.Strategy(strategyStr)
	rec.FailedAt = fromNanos(failedNs)
	rec.ReplayedAt = nanosToTime(replayedNs)
	rec.CreatedAt = fromNanos(createdNs)

	return &rec, nil
}

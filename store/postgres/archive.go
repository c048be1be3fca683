package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/id"
)

// PushArchive persists a new archive record.
func (s *Store) PushArchive(ctx context.Context, rec *archive.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_archive (
			id, entry_id, job_id, job_name, tenant_id, job_type,
			payload, account_id, reason,
			retry_count, max_retries, priority, strategy,
			failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16
		)`,
		rec.ID, rec.EntryID, rec.JobID, rec.JobName, rec.TenantID, string(rec.JobType),
		rec.Payload, rec.AccountID, rec.Reason,
		rec.RetryCount, rec.MaxRetries, rec.Priority, string(rec.Strategy),
		rec.FailedAt, rec.ReplayedAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: push archive: %w", err)
	}
	return nil
}

// GetArchive retrieves a record by ID.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, entry_id, job_id, job_name, tenant_id, job_type,
			payload, account_id, reason,
			retry_count, max_retries, priority, strategy,
			failed_at, replayed_at, created_at
		FROM rotor_archive
		WHERE id = $1`,
		archiveID,
	)

	rec, err := scanArchive(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: get archive: %w", err)
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
	argIdx := 1

	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	if !opts.JobID.IsNil() {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, opts.JobID)
		argIdx++
	}

	query += " ORDER BY failed_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list archive: %w", err)
	}
	defer rows.Close()

	var records []*archive.Record
	for rows.Next() {
		rec, scanErr := scanArchive(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rotor/postgres: scan archive row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate archive rows: %w", err)
	}
	return records, nil
}

// MarkReplayed stamps a record as replayed.
func (s *Store) MarkReplayed(ctx context.Context, archiveID id.ArchiveID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rotor_archive SET replayed_at = $2 WHERE id = $1`,
		archiveID, at,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrArchiveNotFound
	}
	return nil
}

// PurgeArchive removes records that failed before the given time.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rotor_archive WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: purge archive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountArchive returns the total number of archive records.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rotor_archive`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rotor/postgres: count archive: %w", err)
	}
	return count, nil
}

// scanArchive scans a single archive row.
func scanArchive(row pgx.Row) (*archive.Record, error) {
	var (
		rec         archive.Record
		typeStr     string
		strategyStr string
	)
	err := row.Scan(
		&rec.ID, &rec.EntryID, &rec.JobID, &rec.JobName, &rec.TenantID, &typeStr,
		&rec.Payload, &rec.AccountID, &rec.Reason,
		&rec.RetryCount, &rec.MaxRetries, &rec.Priority, &strategyStr,
		&rec.FailedAt, &rec.ReplayedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.JobType = account.JobType(typeStr)
	rec.Strategy = account.Strategy(strategyStr)

	return &rec, nil
}

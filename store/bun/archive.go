package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/id"
)

// PushArchive persists a new archive record.
func (s *Store) PushArchive(ctx context.Context, rec *archive.Record) error {
	m := toArchiveModel(rec)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: push archive: %w", err)
	}
	return nil
}

// GetArchive retrieves a record by ID.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	m := new(archiveModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", archiveID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("rotor/bun: get archive: %w", err)
	}
	return fromArchiveModel(m), nil
}

// ListArchive returns records matching the options, newest failures first.
func (s *Store) ListArchive(ctx context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	var models []archiveModel
	q := s.db.NewSelect().Model(&models)

	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}
	if !opts.JobID.IsNil() {
		q = q.Where("job_id = ?", opts.JobID)
	}

	q = q.Order("failed_at DESC", "id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rotor/bun: list archive: %w", err)
	}

	records := make([]*archive.Record, 0, len(models))
	for i := range models {
		records = append(records, fromArchiveModel(&models[i]))
	}
	return records, nil
}

// MarkReplayed stamps a record as replayed.
func (s *Store) MarkReplayed(ctx context.Context, archiveID id.ArchiveID, at time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("rotor_archive").
		Set("replayed_at = ?", at).
		Where("id = ?", archiveID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: mark replayed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrArchiveNotFound
	}
	return nil
}

// PurgeArchive removes records that failed before the given time.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("rotor_archive").
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: purge archive: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountArchive returns the total number of archive records.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		TableExpr("rotor_archive").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: count archive: %w", err)
	}
	return int64(count), nil
}

package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// AppendUsage stores one attempt record.
func (s *Store) AppendUsage(ctx context.Context, rec *account.UsageRecord) error {
	m := toUsageModel(rec)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: append usage: %w", err)
	}
	return nil
}

// ListUsage returns records for an account recorded at or after since,
// newest first.
func (s *Store) ListUsage(ctx context.Context, accountID id.AccountID, since time.Time, limit int) ([]*account.UsageRecord, error) {
	var models []usageModel
	q := s.db.NewSelect().Model(&models).
		Where("account_id = ?", accountID).
		Where("recorded_at >= ?", since).
		Order("recorded_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rotor/bun: list usage: %w", err)
	}

	records := make([]*account.UsageRecord, 0, len(models))
	for i := range models {
		records = append(records, fromUsageModel(&models[i]))
	}
	return records, nil
}

// PruneUsage deletes records recorded before the cutoff.
func (s *Store) PruneUsage(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("rotor_usage").
		Where("recorded_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotor/bun: prune usage: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// usageModel is the msgpack wire form of a usage record. IDs travel as
// strings since their inner representation is not exported.
type usageModel struct {
	ID         string    `msgpack:"id"`
	AccountID  string    `msgpack:"account_id"`
	JobID      string    `msgpack:"job_id,omitempty"`
	EntryID    string    `msgpack:"entry_id,omitempty"`
	TenantID   string    `msgpack:"tenant_id"`
	Success    bool      `msgpack:"success"`
	Class      string    `msgpack:"class,omitempty"`
	Latency    int64     `msgpack:"latency"`
	RecordedAt time.Time `msgpack:"recorded_at"`
}

func toUsageModel(rec *account.UsageRecord) *usageModel {
	return &usageModel{
		ID:         rec.ID.String(),
		AccountID:  rec.AccountID.String(),
		JobID:      rec.JobID.String(),
		EntryID:    rec.EntryID.String(),
		TenantID:   rec.TenantID,
		Success:    rec.Success,
		Class:      string(rec.Class),
		Latency:    int64(rec.Latency),
		RecordedAt: rec.RecordedAt,
	}
}

func fromUsageModel(u *usageModel) (*account.UsageRecord, error) {
	uID, err := id.Parse(u.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse usage id: %w", err)
	}

	rec := &account.UsageRecord{
		ID:         uID,
		TenantID:   u.TenantID,
		Success:    u.Success,
		Class:      rotor.Class(u.Class),
		Latency:    time.Duration(u.Latency),
		RecordedAt: u.RecordedAt,
	}
	rec.AccountID, _ = id.ParseAccountID(u.AccountID) //nolint:errcheck // best-effort parse from trusted Redis data
	if u.JobID != "" {
		rec.JobID, _ = id.ParseJobID(u.JobID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if u.EntryID != "" {
		rec.EntryID, _ = id.ParseEntryID(u.EntryID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return rec, nil
}

// AppendUsage encodes the record as msgpack and appends it to the
// account's usage list.
func (s *Store) AppendUsage(ctx context.Context, rec *account.UsageRecord) error {
	uID := rec.ID.String()
	blob, err := msgpack.Marshal(toUsageModel(rec))
	if err != nil {
		return fmt.Errorf("rotor/redis: encode usage: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, usageKey(uID), blob, 0)
	pipe.RPush(ctx, accountUsageKey(rec.AccountID.String()), uID)
	pipe.SAdd(ctx, usageIDsKey, uID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: append usage: %w", err)
	}
	return nil
}

// ListUsage returns an account's usage records at or after since, newest
// first, up to limit when limit > 0.
func (s *Store) ListUsage(ctx context.Context, accountID id.AccountID, since time.Time, limit int) ([]*account.UsageRecord, error) {
	ids, err := s.client.LRange(ctx, accountUsageKey(accountID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list usage: %w", err)
	}

	records := make([]*account.UsageRecord, 0, len(ids))
	for _, uID := range ids {
		rec, getErr := s.getUsage(ctx, uID)
		if getErr != nil {
			continue // skip missing
		}
		if rec.RecordedAt.Before(since) {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].RecordedAt.Equal(records[j].RecordedAt) {
			return records[i].RecordedAt.After(records[j].RecordedAt)
		}
		return records[i].ID.String() > records[j].ID.String()
	})
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// PruneUsage deletes usage records recorded strictly before olderThan and
// returns how many were removed.
func (s *Store) PruneUsage(ctx context.Context, olderThan time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, usageIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: prune usage smembers: %w", err)
	}

	var pruned int64
	for _, uID := range ids {
		rec, getErr := s.getUsage(ctx, uID)
		if getErr != nil {
			continue
		}
		if !rec.RecordedAt.Before(olderThan) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, usageKey(uID))
		pipe.SRem(ctx, usageIDsKey, uID)
		pipe.LRem(ctx, accountUsageKey(rec.AccountID.String()), 1, uID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return pruned, fmt.Errorf("rotor/redis: prune usage del: %w", pErr)
		}
		pruned++
	}
	return pruned, nil
}

func (s *Store) getUsage(ctx context.Context, uID string) (*account.UsageRecord, error) {
	blob, err := s.client.Get(ctx, usageKey(uID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get usage: %w", err)
	}
	var u usageModel
	if err := msgpack.Unmarshal(blob, &u); err != nil {
		return nil, fmt.Errorf("rotor/redis: decode usage: %w", err)
	}
	return fromUsageModel(&u)
}

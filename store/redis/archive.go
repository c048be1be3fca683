package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/id"
)

// PushArchive stores a terminally failed entry's record.
func (s *Store) PushArchive(ctx context.Context, rec *archive.Record) error {
	rID := rec.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, archiveKey(rID), archiveToMap(rec))
	pipe.SAdd(ctx, archiveIDsKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: push archive: %w", err)
	}
	return nil
}

// GetArchive retrieves an archive record by ID.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	vals, err := s.client.HGetAll(ctx, archiveKey(archiveID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get archive: %w", err)
	}
	if len(vals) == 0 {
		return nil, rotor.ErrArchiveNotFound
	}
	return mapToArchive(vals)
}

// ListArchive returns archive records matching opts, newest failures
// first.
func (s *Store) ListArchive(ctx context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	ids, err := s.client.SMembers(ctx, archiveIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list archive: %w", err)
	}

	records := make([]*archive.Record, 0, len(ids))
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, archiveKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		rec, convErr := mapToArchive(vals)
		if convErr != nil {
			continue
		}
		if opts.TenantID != "" && rec.TenantID != opts.TenantID {
			continue
		}
		if !opts.JobID.IsNil() && rec.JobID != opts.JobID {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].FailedAt.Equal(records[j].FailedAt) {
			return records[i].FailedAt.After(records[j].FailedAt)
		}
		return records[i].ID.String() > records[j].ID.String()
	})

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(records) {
		records = records[opts.Offset:]
	} else if opts.Offset > 0 && opts.Offset >= len(records) {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(records) {
		records = records[:opts.Limit]
	}
	return records, nil
}

// MarkReplayed stamps the record as replayed into a new job.
func (s *Store) MarkReplayed(ctx context.Context, archiveID id.ArchiveID, at time.Time) error {
	key := archiveKey(archiveID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: mark replayed exists: %w", err)
	}
	if exists == 0 {
		return rotor.ErrArchiveNotFound
	}

	if _, err := s.client.HSet(ctx, key, "replayed_at", at.Format(time.RFC3339Nano)).Result(); err != nil {
		return fmt.Errorf("rotor/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeArchive removes records that failed strictly before the given time
// and returns how many were removed.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, archiveIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: purge smembers: %w", err)
	}

	var purged int64
	for _, rID := range ids {
		key := archiveKey(rID)
		failedAtStr, getErr := s.client.HGet(ctx, key, "failed_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("rotor/redis: purge get: %w", getErr)
		}

		failedAt, _ := time.Parse(time.RFC3339Nano, failedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if failedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, archiveIDsKey, rID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("rotor/redis: purge del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountArchive returns the total number of archive records.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, archiveIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: count archive: %w", err)
	}
	return count, nil
}

// ── helpers ──

func archiveToMap(rec *archive.Record) map[string]interface{} {
	return map[string]interface{}{
		"id":          rec.ID.String(),
		"entry_id":    rec.EntryID.String(),
		"job_id":      rec.JobID.String(),
		"job_name":    rec.JobName,
		"tenant_id":   rec.TenantID,
		"job_type":    string(rec.JobType),
		"payload":     rec.Payload,
		"account_id":  rec.AccountID.String(),
		"reason":      rec.Reason,
		"retry_count": strconv.Itoa(rec.RetryCount),
		"max_retries": strconv.Itoa(rec.MaxRetries),
		"priority":    strconv.Itoa(rec.Priority),
		"strategy":    string(rec.Strategy),
		"failed_at":   rec.FailedAt.Format(time.RFC3339Nano),
		"replayed_at": timeToStr(rec.ReplayedAt),
		"created_at":  rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func mapToArchive(m map[string]string) (*archive.Record, error) {
	rID, err := id.ParseArchiveID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse archive id: %w", err)
	}

	retryCount, _ := strconv.Atoi(m["retry_count"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	rec := &archive.Record{
		ID:         rID,
		JobName:    m["job_name"],
		TenantID:   m["tenant_id"],
		JobType:    account.JobType(m["job_type"]),
		Payload:    m["payload"],
		Reason:     m["reason"],
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		Priority:   priority,
		Strategy:   account.Strategy(m["strategy"]),
		FailedAt:   failedAt,
		ReplayedAt: strToTime(m["replayed_at"]),
		CreatedAt:  createdAt,
	}
	rec.EntryID, _ = id.ParseEntryID(m["entry_id"]) //nolint:errcheck // best-effort parse from trusted Redis data
	rec.JobID, _ = id.ParseJobID(m["job_id"])       //nolint:errcheck // best-effort parse from trusted Redis data
	if v := m["account_id"]; v != "" {
		rec.AccountID, _ = id.ParseAccountID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return rec, nil
}

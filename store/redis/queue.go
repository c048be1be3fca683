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
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/queue"
)

// entryScore computes the ready set score from priority and enqueue time.
// Lower priority values claim first, FIFO within a priority. The time
// fraction stays far below 1 so it never crosses a priority step.
func entryScore(priority int, createdAt time.Time) float64 {
	return float64(priority) + float64(createdAt.UnixMilli())/1e15
}

// scheduleEntry adds a queued, unheld entry to the ready or delayed set.
// Held and in-flight entries stay out of both.
func scheduleEntry(ctx context.Context, c goredis.Cmdable, e *queue.Entry) {
	if e.Status != queue.StatusQueued || e.Held {
		return
	}
	eID := e.ID.String()
	if e.NotBefore != nil {
		c.ZAdd(ctx, delayedKey, goredis.Z{Score: float64(e.NotBefore.UnixMilli()), Member: eID})
		return
	}
	c.ZAdd(ctx, readyKey, goredis.Z{Score: entryScore(e.Priority, e.CreatedAt), Member: eID})
}

// EnqueueEntries persists a batch of entries and makes the claimable ones
// visible to workers.
func (s *Store) EnqueueEntries(ctx context.Context, entries []*queue.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, e := range entries {
		eID := e.ID.String()
		pipe.HSet(ctx, entryKey(eID), entryToMap(e))
		pipe.SAdd(ctx, entryIDsKey, eID)
		pipe.RPush(ctx, jobEntriesKey(e.JobID.String()), eID)
		scheduleEntry(ctx, pipe, e)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: enqueue entries: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*queue.Entry, error) {
	return s.getEntryByKey(ctx, entryKey(entryID.String()))
}

// ListEntriesByJob returns a job's entries in enqueue order.
func (s *Store) ListEntriesByJob(ctx context.Context, jobID id.JobID) ([]*queue.Entry, error) {
	ids, err := s.client.LRange(ctx, jobEntriesKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list entries: %w", err)
	}

	entries := make([]*queue.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
	return entries, nil
}

// ClaimNext pops the best claimable entry and assigns it to the worker.
// Entries whose retry gate has passed are promoted from the delayed set
// first. ZPOPMIN hands each candidate to exactly one claimer. Returns
// (nil, nil) when nothing is claimable.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*queue.Entry, error) {
	if err := s.promoteDue(ctx, now); err != nil {
		return nil, err
	}

	for {
		members, err := s.client.ZPopMin(ctx, readyKey, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("rotor/redis: claim zpopmin: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}

		eID, ok := members[0].Member.(string)
		if !ok {
			continue
		}

		key := entryKey(eID)
		e, getErr := s.getEntryByKey(ctx, key)
		if getErr != nil {
			if errors.Is(getErr, rotor.ErrEntryNotFound) {
				continue // entry deleted out from under the index
			}
			return nil, getErr
		}

		// The ready set can lag the hash (a hold or cancel raced the
		// claim, or a millisecond-rounded gate has not quite passed).
		// Reschedule what is still queued instead of dropping it.
		if !e.Claimable(now) {
			scheduleEntry(ctx, s.client, e)
			continue
		}

		e.Assign(workerID, now)
		if _, setErr := s.client.HSet(ctx, key, entryToMap(e)).Result(); setErr != nil {
			return nil, fmt.Errorf("rotor/redis: claim assign: %w", setErr)
		}
		return e, nil
	}
}

// promoteDue moves delayed entries whose gate has passed into the ready
// set. The gate itself is re-checked at claim time against the caller's
// clock.
func (s *Store) promoteDue(ctx context.Context, now time.Time) error {
	due, err := s.client.ZRangeByScore(ctx, delayedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: promote zrangebyscore: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range due {
		pipe.ZRem(ctx, delayedKey, eID)
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			continue
		}
		if e.Status != queue.StatusQueued || e.Held {
			continue
		}
		pipe.ZAdd(ctx, readyKey, goredis.Z{Score: entryScore(e.Priority, e.CreatedAt), Member: eID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: promote due: %w", err)
	}
	return nil
}

// MarkEntryProcessing binds the account and moves an assigned entry to
// processing.
func (s *Store) MarkEntryProcessing(ctx context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error {
	key := entryKey(entryID.String())
	e, err := s.getEntryByKey(ctx, key)
	if err != nil {
		return err
	}
	if e.Status != queue.StatusAssigned {
		return rotor.ErrInvalidState
	}

	e.Bind(accountID)
	e.StartProcessing(now)
	if _, err := s.client.HSet(ctx, key, entryToMap(e)).Result(); err != nil {
		return fmt.Errorf("rotor/redis: mark processing: %w", err)
	}
	return nil
}

// ReleaseEntry returns an in-flight entry to the queue without consuming
// retry budget. Releasing a queued or terminal entry is a no-op. A delay
// pushes the retry gate out; zero keeps the existing gate.
func (s *Store) ReleaseEntry(ctx context.Context, entryID id.EntryID, delay time.Duration, now time.Time) error {
	key := entryKey(entryID.String())
	e, err := s.getEntryByKey(ctx, key)
	if err != nil {
		return err
	}
	if e.Status != queue.StatusAssigned && e.Status != queue.StatusProcessing {
		return nil
	}

	e.Release(now)
	if delay > 0 {
		nb := now.Add(delay)
		e.NotBefore = &nb
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entryToMap(e))
	scheduleEntry(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: release entry: %w", err)
	}
	return nil
}

// FinalizeEntry applies one execution outcome. Success and permanent
// failures are terminal; other failures requeue while retry budget
// remains. Finalizing an already terminal entry returns it unchanged with
// applied=false.
func (s *Store) FinalizeEntry(ctx context.Context, entryID id.EntryID, outcome rotor.Outcome, reason string, retryDelay time.Duration, now time.Time) (*queue.Entry, bool, error) {
	key := entryKey(entryID.String())
	e, err := s.getEntryByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if e.Status.Terminal() {
		return e, false, nil
	}

	queue.ApplyFinalize(e, outcome, reason, retryDelay, now)

	// A queued entry can be finalized without ever being claimed, so drop
	// any stale set membership before rescheduling.
	eID := entryID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entryToMap(e))
	pipe.ZRem(ctx, readyKey, eID)
	pipe.ZRem(ctx, delayedKey, eID)
	scheduleEntry(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("rotor/redis: finalize entry: %w", err)
	}
	return e, true, nil
}

// RequeueOrphans returns entries stuck in assigned or processing to the
// queue when their claim is at least olderThan old. Crashed workers leave
// entries in that state; the leader sweeps them.
func (s *Store) RequeueOrphans(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-olderThan)

	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: requeue smembers: %w", err)
	}

	var requeued int64
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			continue
		}
		if e.Status != queue.StatusAssigned && e.Status != queue.StatusProcessing {
			continue
		}
		claimedAt := e.UpdatedAt
		if e.AssignedAt != nil {
			claimedAt = *e.AssignedAt
		}
		if e.StartedAt != nil {
			claimedAt = *e.StartedAt
		}
		if claimedAt.After(cutoff) {
			continue
		}

		e.Release(now)
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, entryKey(eID), entryToMap(e))
		scheduleEntry(ctx, pipe, e)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return requeued, fmt.Errorf("rotor/redis: requeue orphan: %w", pErr)
		}
		requeued++
	}
	return requeued, nil
}

// HoldEntries takes a paused job's queued entries out of circulation.
func (s *Store) HoldEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	ids, err := s.client.LRange(ctx, jobEntriesKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: hold lrange: %w", err)
	}

	var held int64
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			continue
		}
		if e.Status != queue.StatusQueued || e.Held {
			continue
		}
		e.Held = true
		e.Touch()
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, entryKey(eID), entryToMap(e))
		pipe.ZRem(ctx, readyKey, eID)
		pipe.ZRem(ctx, delayedKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return held, fmt.Errorf("rotor/redis: hold entry: %w", pErr)
		}
		held++
	}
	return held, nil
}

// UnholdEntries puts a resumed job's held entries back into circulation.
func (s *Store) UnholdEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	ids, err := s.client.LRange(ctx, jobEntriesKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: unhold lrange: %w", err)
	}

	var unheld int64
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			continue
		}
		if !e.Held {
			continue
		}
		e.Held = false
		e.Touch()
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, entryKey(eID), entryToMap(e))
		scheduleEntry(ctx, pipe, e)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return unheld, fmt.Errorf("rotor/redis: unhold entry: %w", pErr)
		}
		unheld++
	}
	return unheld, nil
}

// CancelQueuedEntries terminally fails a canceled job's remaining queued
// entries. In-flight entries are left to finish on their own.
func (s *Store) CancelQueuedEntries(ctx context.Context, jobID id.JobID, reason string, now time.Time) (int64, error) {
	ids, err := s.client.LRange(ctx, jobEntriesKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("rotor/redis: cancel lrange: %w", err)
	}

	var canceled int64
	for _, eID := range ids {
		e, getErr := s.getEntryByKey(ctx, entryKey(eID))
		if getErr != nil {
			continue
		}
		if e.Status != queue.StatusQueued {
			continue
		}
		e.Status = queue.StatusFailed
		e.LastError = reason
		t := now
		e.CompletedAt = &t
		e.Held = false
		e.Touch()
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, entryKey(eID), entryToMap(e))
		pipe.ZRem(ctx, readyKey, eID)
		pipe.ZRem(ctx, delayedKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return canceled, fmt.Errorf("rotor/redis: cancel entry: %w", pErr)
		}
		canceled++
	}
	return canceled, nil
}

// CountEntries returns entry counts grouped by status.
func (s *Store) CountEntries(ctx context.Context) (map[queue.Status]int, error) {
	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: count smembers: %w", err)
	}

	counts := make(map[queue.Status]int)
	for _, eID := range ids {
		st, getErr := s.client.HGet(ctx, entryKey(eID), "status").Result()
		if getErr != nil {
			continue
		}
		counts[queue.Status(st)]++
	}
	return counts, nil
}

// ── helpers ──

func entryToMap(e *queue.Entry) map[string]interface{} {
	return map[string]interface{}{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"tenant_id":    e.TenantID,
		"job_type":     string(e.JobType),
		"payload":      e.Payload,
		"account_id":   e.AccountID.String(),
		"status":       string(e.Status),
		"priority":     strconv.Itoa(e.Priority),
		"retry_count":  strconv.Itoa(e.RetryCount),
		"max_retries":  strconv.Itoa(e.MaxRetries),
		"not_before":   timeToStr(e.NotBefore),
		"held":         boolToStr(e.Held),
		"worker_id":    e.WorkerID.String(),
		"assigned_at":  timeToStr(e.AssignedAt),
		"started_at":   timeToStr(e.StartedAt),
		"completed_at": timeToStr(e.CompletedAt),
		"last_error":   e.LastError,
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   e.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getEntryByKey(ctx context.Context, key string) (*queue.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, rotor.ErrEntryNotFound
	}
	return mapToEntry(vals)
}

func mapToEntry(m map[string]string) (*queue.Entry, error) {
	eID, err := id.ParseEntryID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse entry id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &queue.Entry{
		Entity: rotor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          eID,
		TenantID:    m["tenant_id"],
		JobType:     account.JobType(m["job_type"]),
		Payload:     m["payload"],
		Status:      queue.Status(m["status"]),
		Priority:    priority,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		NotBefore:   strToTime(m["not_before"]),
		Held:        m["held"] == "1",
		AssignedAt:  strToTime(m["assigned_at"]),
		StartedAt:   strToTime(m["started_at"]),
		CompletedAt: strToTime(m["completed_at"]),
		LastError:   m["last_error"],
	}
	e.JobID, _ = id.ParseJobID(m["job_id"]) //nolint:errcheck // best-effort parse from trusted Redis data
	if v := m["account_id"]; v != "" {
		e.AccountID, _ = id.ParseAccountID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["worker_id"]; v != "" {
		e.WorkerID, _ = id.ParseWorkerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return e, nil
}

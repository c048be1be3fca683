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
	"github.com/xraph/rotor/recurring"
)

// RegisterRecurring persists a new schedule. Names are unique.
func (s *Store) RegisterRecurring(ctx context.Context, sc *recurring.Schedule) error {
	rID := sc.ID.String()

	// Check for duplicate name.
	existing, err := s.client.HGet(ctx, recurringNamesKey, sc.Name).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("rotor/redis: register recurring check name: %w", err)
	}
	if existing != "" {
		return rotor.ErrRecurringExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recurringKey(rID), scheduleToMap(sc))
	pipe.SAdd(ctx, recurringIDsKey, rID)
	pipe.HSet(ctx, recurringNamesKey, sc.Name, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a schedule by ID.
func (s *Store) GetRecurring(ctx context.Context, recurringID id.RecurringID) (*recurring.Schedule, error) {
	return s.getScheduleByKey(ctx, recurringKey(recurringID.String()))
}

// ListRecurring returns all schedules, oldest first.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Schedule, error) {
	ids, err := s.client.SMembers(ctx, recurringIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list recurring: %w", err)
	}

	schedules := make([]*recurring.Schedule, 0, len(ids))
	for _, rID := range ids {
		sc, getErr := s.getScheduleByKey(ctx, recurringKey(rID))
		if getErr != nil {
			continue // skip missing
		}
		schedules = append(schedules, sc)
	}
	sort.Slice(schedules, func(i, j int) bool {
		if !schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		}
		return schedules[i].ID.String() < schedules[j].ID.String()
	})
	return schedules, nil
}

// AcquireRecurringLock takes the schedule's firing lock for ttl. It
// succeeds when the lock is free, expired as of now, or already held by
// this worker. The lock fields move without touching updated_at.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	key := recurringKey(recurringID.String())
	until := now.Add(ttl)

	sc, err := s.getScheduleByKey(ctx, key)
	if err != nil {
		return false, err
	}

	if !sc.LockedBy.IsNil() && sc.LockedBy != workerID {
		// Someone else holds the lock; check if it expired.
		if sc.LockedUntil != nil && sc.LockedUntil.After(now) {
			return false, nil // lock still valid
		}
	}

	if _, err := s.client.HSet(ctx, key,
		"locked_by", workerID.String(),
		"locked_until", until.Format(time.RFC3339Nano),
	).Result(); err != nil {
		return false, fmt.Errorf("rotor/redis: acquire recurring lock: %w", err)
	}
	return true, nil
}

// ReleaseRecurringLock drops the firing lock if this worker holds it.
func (s *Store) ReleaseRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID) error {
	key := recurringKey(recurringID.String())

	sc, err := s.getScheduleByKey(ctx, key)
	if err != nil {
		return err
	}
	if sc.LockedBy != workerID {
		return nil // not our lock, no-op
	}

	if _, err := s.client.HSet(ctx, key, "locked_by", "", "locked_until", "").Result(); err != nil {
		return fmt.Errorf("rotor/redis: release recurring lock: %w", err)
	}
	return nil
}

// MarkRecurringRun records a firing and the next computed run time.
func (s *Store) MarkRecurringRun(ctx context.Context, recurringID id.RecurringID, ranAt, nextRun time.Time) error {
	key := recurringKey(recurringID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: mark run exists: %w", err)
	}
	if exists == 0 {
		return rotor.ErrRecurringNotFound
	}

	if _, err := s.client.HSet(ctx, key,
		"last_run_at", ranAt.Format(time.RFC3339Nano),
		"next_run_at", nextRun.Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result(); err != nil {
		return fmt.Errorf("rotor/redis: mark recurring run: %w", err)
	}
	return nil
}

// UpdateRecurring replaces the schedule, keeping the name index in sync.
func (s *Store) UpdateRecurring(ctx context.Context, sc *recurring.Schedule) error {
	rID := sc.ID.String()
	key := recurringKey(rID)

	old, err := s.getScheduleByKey(ctx, key)
	if err != nil {
		return err
	}

	if sc.Name != old.Name {
		existing, nameErr := s.client.HGet(ctx, recurringNamesKey, sc.Name).Result()
		if nameErr != nil && !errors.Is(nameErr, goredis.Nil) {
			return fmt.Errorf("rotor/redis: update recurring check name: %w", nameErr)
		}
		if existing != "" && existing != rID {
			return rotor.ErrRecurringExists
		}
	}

	fields := scheduleToMap(sc)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if sc.Name != old.Name {
		pipe.HDel(ctx, recurringNamesKey, old.Name)
		pipe.HSet(ctx, recurringNamesKey, sc.Name, rID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: update recurring: %w", err)
	}
	return nil
}

// DeleteRecurring removes a schedule by ID.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID id.RecurringID) error {
	rID := recurringID.String()
	key := recurringKey(rID)

	// Get name for name index cleanup.
	sc, err := s.getScheduleByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, recurringIDsKey, rID)
	if sc.Name != "" {
		pipe.HDel(ctx, recurringNamesKey, sc.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: delete recurring: %w", err)
	}
	return nil
}

// ── helpers ──

func scheduleToMap(sc *recurring.Schedule) map[string]interface{} {
	return map[string]interface{}{
		"id":           sc.ID.String(),
		"name":         sc.Name,
		"tenant_id":    sc.TenantID,
		"expr":         sc.Expr,
		"job_name":     sc.JobName,
		"job_type":     string(sc.JobType),
		"items":        marshalJSON(sc.Items),
		"strategy":     string(sc.Strategy),
		"priority":     strconv.Itoa(sc.Priority),
		"max_retries":  strconv.Itoa(sc.MaxRetries),
		"enabled":      boolToStr(sc.Enabled),
		"last_run_at":  timeToStr(sc.LastRunAt),
		"next_run_at":  timeToStr(sc.NextRunAt),
		"locked_by":    sc.LockedBy.String(),
		"locked_until": timeToStr(sc.LockedUntil),
		"created_at":   sc.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   sc.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getScheduleByKey(ctx context.Context, key string) (*recurring.Schedule, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get recurring: %w", err)
	}
	if len(vals) == 0 {
		return nil, rotor.ErrRecurringNotFound
	}
	return mapToSchedule(vals)
}

func mapToSchedule(m map[string]string) (*recurring.Schedule, error) {
	rID, err := id.ParseRecurringID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse recurring id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	sc := &recurring.Schedule{
		Entity: rotor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          rID,
		Name:        m["name"],
		TenantID:    m["tenant_id"],
		Expr:        m["expr"],
		JobName:     m["job_name"],
		JobType:     account.JobType(m["job_type"]),
		Items:       unmarshalStrings(m["items"]),
		Strategy:    account.Strategy(m["strategy"]),
		Priority:    priority,
		MaxRetries:  maxRetries,
		Enabled:     m["enabled"] == "1",
		LastRunAt:   strToTime(m["last_run_at"]),
		NextRunAt:   strToTime(m["next_run_at"]),
		LockedUntil: strToTime(m["locked_until"]),
	}
	if v := m["locked_by"]; v != "" {
		sc.LockedBy, _ = id.ParseWorkerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return sc, nil
}

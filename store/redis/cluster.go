package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/id"
)

// RegisterWorker stores the worker as a Hash, overwriting any previous
// registration under the same ID.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()

	exists, err := s.client.Exists(ctx, workerKey(wID)).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: deregister exists: %w", err)
	}
	if exists == 0 {
		return rotor.ErrWorkerNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker stamps the worker's last_seen.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error {
	key := workerKey(workerID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return rotor.ErrWorkerNotFound
	}

	if _, err := s.client.HSet(ctx, key, "last_seen", now.Format(time.RFC3339Nano)).Result(); err != nil {
		return fmt.Errorf("rotor/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		w, getErr := s.getWorkerByKey(ctx, workerKey(wID))
		if getErr != nil {
			continue // skip missing
		}
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		if !workers[i].CreatedAt.Equal(workers[j].CreatedAt) {
			return workers[i].CreatedAt.Before(workers[j].CreatedAt)
		}
		return workers[i].ID.String() < workers[j].ID.String()
	})
	return workers, nil
}

// UpdateWorkerState moves a worker between active, draining and dead.
func (s *Store) UpdateWorkerState(ctx context.Context, workerID id.WorkerID, state cluster.State) error {
	key := workerKey(workerID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: update state exists: %w", err)
	}
	if exists == 0 {
		return rotor.ErrWorkerNotFound
	}

	if _, err := s.client.HSet(ctx, key, "state", string(state)).Result(); err != nil {
		return fmt.Errorf("rotor/redis: update worker state: %w", err)
	}
	return nil
}

// StaleWorkers returns non-dead workers whose last heartbeat is older than
// the threshold.
func (s *Store) StaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]*cluster.Worker, error) {
	cutoff := now.Add(-threshold)

	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: stale smembers: %w", err)
	}

	var stale []*cluster.Worker
	for _, wID := range ids {
		w, getErr := s.getWorkerByKey(ctx, workerKey(wID))
		if getErr != nil {
			continue
		}
		if w.State == cluster.StateDead {
			continue
		}
		if w.LastSeen.Before(cutoff) {
			stale = append(stale, w)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].ID.String() < stale[j].ID.String()
	})
	return stale, nil
}

// ── leadership ──

// AcquireLeadership attempts to take the leadership lease for ttl. It
// succeeds when the lease is free, expired as of now, or already held by
// this worker. SETNX makes the first claim atomic; expired takeover is a
// read-check-write.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	wID := workerID.String()
	until := now.Add(ttl)
	lease := leaseValue(wID, until)

	claimed, err := s.client.SetNX(ctx, leaderKey, lease, 0).Result()
	if err != nil {
		return false, fmt.Errorf("rotor/redis: acquire leadership: %w", err)
	}
	if claimed {
		s.syncLeaderFlags(ctx, wID, until)
		return true, nil
	}

	cur, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Lease vanished between SETNX and GET; treat it as free.
			cur = ""
		} else {
			return false, fmt.Errorf("rotor/redis: acquire get lease: %w", err)
		}
	}
	if cur != "" {
		holder, leaseUntil := parseLease(cur)
		if holder != wID && leaseUntil.After(now) {
			return false, nil
		}
	}

	if err := s.client.Set(ctx, leaderKey, lease, 0).Err(); err != nil {
		return false, fmt.Errorf("rotor/redis: acquire take lease: %w", err)
	}
	s.syncLeaderFlags(ctx, wID, until)
	return true, nil
}

// RenewLeadership extends the lease while this worker still holds it.
// There is no expiry check: the holder may renew a lease that lapsed
// without anyone taking it over.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	wID := workerID.String()

	cur, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("rotor/redis: renew get lease: %w", err)
	}
	holder, _ := parseLease(cur)
	if holder != wID {
		return false, nil
	}

	until := now.Add(ttl)
	if err := s.client.Set(ctx, leaderKey, leaseValue(wID, until), 0).Err(); err != nil {
		return false, fmt.Errorf("rotor/redis: renew lease: %w", err)
	}
	s.syncLeaderFlags(ctx, wID, until)
	return true, nil
}

// ReleaseLeadership gives up the lease if this worker holds it. Releasing
// a lease held by someone else is a no-op.
func (s *Store) ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()

	cur, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("rotor/redis: release get lease: %w", err)
	}
	holder, _ := parseLease(cur)
	if holder != wID {
		return nil
	}

	if err := s.client.Del(ctx, leaderKey).Err(); err != nil {
		return fmt.Errorf("rotor/redis: release lease: %w", err)
	}
	if _, err := s.client.HSet(ctx, workerKey(wID), "is_leader", "0", "leader_until", "").Result(); err != nil {
		s.logger.Warn("clear leader flag failed", "worker_id", wID, "error", err)
	}
	return nil
}

// GetLeader returns the worker holding an unexpired lease, or nil when
// there is no live registered leader.
func (s *Store) GetLeader(ctx context.Context, now time.Time) (*cluster.Worker, error) {
	cur, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/redis: get leader: %w", err)
	}
	holder, until := parseLease(cur)
	if !until.After(now) {
		return nil, nil
	}

	w, err := s.getWorkerByKey(ctx, workerKey(holder))
	if err != nil {
		if errors.Is(err, rotor.ErrWorkerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// syncLeaderFlags mirrors the lease onto the registered worker Hashes.
// The flags are advisory; the lease value is the source of truth.
func (s *Store) syncLeaderFlags(ctx context.Context, leaderID string, until time.Time) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		s.logger.Warn("sync leader flags smembers failed", "error", err)
		return
	}

	pipe := s.client.TxPipeline()
	for _, wID := range ids {
		if wID == leaderID {
			pipe.HSet(ctx, workerKey(wID), "is_leader", "1", "leader_until", until.Format(time.RFC3339Nano))
			continue
		}
		pipe.HSet(ctx, workerKey(wID), "is_leader", "0", "leader_until", "")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("sync leader flags failed", "leader_id", leaderID, "error", err)
	}
}

// ── helpers ──

func leaseValue(workerID string, until time.Time) string {
	return workerID + "|" + until.Format(time.RFC3339Nano)
}

func parseLease(v string) (holder string, until time.Time) {
	holder, rest, ok := strings.Cut(v, "|")
	if !ok {
		return v, time.Time{}
	}
	until, _ = time.Parse(time.RFC3339Nano, rest) //nolint:errcheck // best-effort parse from trusted Redis data
	return holder, until
}

func workerToMap(w *cluster.Worker) map[string]interface{} {
	return map[string]interface{}{
		"id":           w.ID.String(),
		"hostname":     w.Hostname,
		"concurrency":  strconv.Itoa(w.Concurrency),
		"state":        string(w.State),
		"is_leader":    boolToStr(w.IsLeader),
		"leader_until": timeToStr(w.LeaderUntil),
		"last_seen":    w.LastSeen.Format(time.RFC3339Nano),
		"metadata":     marshalJSON(w.Metadata),
		"created_at":   w.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getWorkerByKey(ctx context.Context, key string) (*cluster.Worker, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get worker: %w", err)
	}
	if len(vals) == 0 {
		return nil, rotor.ErrWorkerNotFound
	}
	return mapToWorker(vals)
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"])              //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Concurrency: concurrency,
		State:       cluster.State(m["state"]),
		IsLeader:    m["is_leader"] == "1",
		LeaderUntil: strToTime(m["leader_until"]),
		LastSeen:    lastSeen,
		Metadata:    unmarshalMap(m["metadata"]),
		CreatedAt:   createdAt,
	}, nil
}

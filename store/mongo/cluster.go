package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/id"
)

// leaderDocID keys the singleton lease document.
const leaderDocID = "leader"

// RegisterWorker adds a worker to the registry. Re-registering overwrites
// the whole document, so a restarted instance starts from its announced
// state.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m := toWorkerModel(w)
	_, err := s.db.Collection(collWorkers).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.Collection(collWorkers).DeleteOne(ctx, bson.M{"_id": workerID.String()})
	if err != nil {
		return fmt.Errorf("rotor/mongo: deregister worker: %w", err)
	}
	if res.DeletedCount == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID, now time.Time) error {
	res, err := s.db.Collection(collWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String()},
		bson.M{"$set": bson.M{"last_seen": now}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: heartbeat worker: %w", err)
	}
	if res.MatchedCount == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	cursor, err := s.db.Collection(collWorkers).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list workers: %w", err)
	}
	defer cursor.Close(ctx)

	return collectWorkers(ctx, cursor)
}

// UpdateWorkerState moves a worker between lifecycle states.
func (s *Store) UpdateWorkerState(ctx context.Context, workerID id.WorkerID, state cluster.State) error {
	res, err := s.db.Collection(collWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String()},
		bson.M{"$set": bson.M{"state": string(state)}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: update worker state: %w", err)
	}
	if res.MatchedCount == 0 {
		return rotor.ErrWorkerNotFound
	}
	return nil
}

// StaleWorkers returns non-dead workers whose last heartbeat is older than
// the threshold.
func (s *Store) StaleWorkers(ctx context.Context, threshold time.Duration, now time.Time) ([]*cluster.Worker, error) {
	cutoff := now.Add(-threshold)

	cursor, err := s.db.Collection(collWorkers).Find(ctx,
		bson.M{
			"state":     bson.M{"$ne": string(cluster.StateDead)},
			"last_seen": bson.M{"$lt": cutoff},
		},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: stale workers: %w", err)
	}
	defer cursor.Close(ctx)

	return collectWorkers(ctx, cursor)
}

// AcquireLeadership attempts to take the leader lease. The guarded upsert
// on the singleton document lets exactly one contender win a free or
// expired lease: a holder mismatch fails the filter, the upsert then
// collides on _id and reports the loss as a duplicate key. A worker does
// not have to be registered to hold the lease; the is_leader flags on
// worker documents are advisory.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	_, err := s.db.Collection(collLeadership).UpdateOne(ctx,
		bson.M{
			"_id": leaderDocID,
			"$or": bson.A{
				bson.M{"worker_id": workerID.String()},
				bson.M{"lease_until": bson.M{"$lte": now}},
			},
		},
		bson.M{"$set": bson.M{
			"worker_id":   workerID.String(),
			"lease_until": until,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("rotor/mongo: acquire leadership: %w", err)
	}

	if err := s.syncLeaderFlags(ctx, workerID, &until); err != nil {
		return false, err
	}
	return true, nil
}

// RenewLeadership extends the lease when this worker still holds it.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	res, err := s.db.Collection(collLeadership).UpdateOne(ctx,
		bson.M{"_id": leaderDocID, "worker_id": workerID.String()},
		bson.M{"$set": bson.M{"lease_until": until}},
	)
	if err != nil {
		return false, fmt.Errorf("rotor/mongo: renew leadership: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}

	if err := s.syncLeaderFlags(ctx, workerID, &until); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLeadership gives up the lease if held. Releasing without holding
// it is a no-op.
func (s *Store) ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.Collection(collLeadership).DeleteOne(ctx,
		bson.M{"_id": leaderDocID, "worker_id": workerID.String()},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: release leadership: %w", err)
	}
	if res.DeletedCount == 0 {
		return nil
	}

	_, err = s.db.Collection(collWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String(), "is_leader": true},
		bson.M{"$set": bson.M{"is_leader": false}, "$unset": bson.M{"leader_until": ""}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: clear leader flag: %w", err)
	}
	return nil
}

// GetLeader returns the worker holding an unexpired lease, or nil. A lease
// held by an unregistered worker reports no leader.
func (s *Store) GetLeader(ctx context.Context, now time.Time) (*cluster.Worker, error) {
	var lease leadershipModel
	err := s.db.Collection(collLeadership).FindOne(ctx,
		bson.M{"_id": leaderDocID, "lease_until": bson.M{"$gt": now}},
	).Decode(&lease)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/mongo: get leader: %w", err)
	}

	var m workerModel
	err = s.db.Collection(collWorkers).FindOne(ctx, bson.M{"_id": lease.WorkerID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/mongo: get leader worker: %w", err)
	}
	return fromWorkerModel(&m)
}

// syncLeaderFlags mirrors the lease onto the worker documents: the holder
// gets is_leader and the lease expiry, everyone else is cleared.
func (s *Store) syncLeaderFlags(ctx context.Context, workerID id.WorkerID, until *time.Time) error {
	_, err := s.db.Collection(collWorkers).UpdateMany(ctx,
		bson.M{"is_leader": true, "_id": bson.M{"$ne": workerID.String()}},
		bson.M{"$set": bson.M{"is_leader": false}, "$unset": bson.M{"leader_until": ""}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: clear stale leader flags: %w", err)
	}

	_, err = s.db.Collection(collWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String()},
		bson.M{"$set": bson.M{"is_leader": true, "leader_until": until}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: set leader flag: %w", err)
	}
	return nil
}

// collectWorkers decodes and converts all workers from a cursor.
func collectWorkers(ctx context.Context, cursor *mongo.Cursor) ([]*cluster.Worker, error) {
	var models []workerModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: decode worker documents: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: convert worker document: %w", convErr)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/recurring"
)

// RegisterRecurring persists a new schedule. Names are unique, enforced
// by the index Migrate ensures.
func (s *Store) RegisterRecurring(ctx context.Context, sc *recurring.Schedule) error {
	_, err := s.db.Collection(collRecurring).InsertOne(ctx, toRecurringModel(sc))
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/mongo: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a schedule by ID.
func (s *Store) GetRecurring(ctx context.Context, recurringID id.RecurringID) (*recurring.Schedule, error) {
	var m recurringModel
	err := s.db.Collection(collRecurring).FindOne(ctx, bson.M{"_id": recurringID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rotor.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("rotor/mongo: get recurring: %w", err)
	}
	return fromRecurringModel(&m)
}

// ListRecurring returns all schedules.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Schedule, error) {
	cursor, err := s.db.Collection(collRecurring).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list recurring: %w", err)
	}
	defer cursor.Close(ctx)

	var models []recurringModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: list recurring decode: %w", err)
	}

	schedules := make([]*recurring.Schedule, 0, len(models))
	for i := range models {
		sc, convErr := fromRecurringModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: list recurring convert: %w", convErr)
		}
		schedules = append(schedules, sc)
	}
	return schedules, nil
}

// AcquireRecurringLock takes the firing lock for a schedule. The guard
// lets the lock be taken when free, expired, or already ours, so exactly
// one instance fires a due schedule.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	until := now.Add(ttl)

	res, err := s.db.Collection(collRecurring).UpdateOne(ctx,
		bson.M{
			"_id": recurringID.String(),
			"$or": bson.A{
				bson.M{"locked_by": ""},
				bson.M{"locked_by": workerID.String()},
				bson.M{"locked_until": nil},
				bson.M{"locked_until": bson.M{"$lte": now}},
			},
		},
		bson.M{"$set": bson.M{
			"locked_by":    workerID.String(),
			"locked_until": until,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("rotor/mongo: acquire recurring lock: %w", err)
	}
	if res.MatchedCount == 0 {
		found, existsErr := s.exists(ctx, collRecurring, recurringID)
		if existsErr != nil {
			return false, existsErr
		}
		if !found {
			return false, rotor.ErrRecurringNotFound
		}
		return false, nil
	}
	return true, nil
}

// ReleaseRecurringLock drops the firing lock if held by this worker.
// Releasing a lock someone else holds is a no-op.
func (s *Store) ReleaseRecurringLock(ctx context.Context, recurringID id.RecurringID, workerID id.WorkerID) error {
	res, err := s.db.Collection(collRecurring).UpdateOne(ctx,
		bson.M{"_id": recurringID.String(), "locked_by": workerID.String()},
		bson.M{
			"$set":   bson.M{"locked_by": ""},
			"$unset": bson.M{"locked_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: release recurring lock: %w", err)
	}
	if res.MatchedCount == 0 {
		found, existsErr := s.exists(ctx, collRecurring, recurringID)
		if existsErr != nil {
			return existsErr
		}
		if !found {
			return rotor.ErrRecurringNotFound
		}
	}
	return nil
}

// MarkRecurringRun records one firing and the next due time.
func (s *Store) MarkRecurringRun(ctx context.Context, recurringID id.RecurringID, ranAt, nextRun time.Time) error {
	res, err := s.db.Collection(collRecurring).UpdateOne(ctx,
		bson.M{"_id": recurringID.String()},
		bson.M{"$set": bson.M{
			"last_run_at": ranAt,
			"next_run_at": nextRun,
			"updated_at":  time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: mark recurring run: %w", err)
	}
	if res.MatchedCount == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// UpdateRecurring persists edits to an existing schedule.
func (s *Store) UpdateRecurring(ctx context.Context, sc *recurring.Schedule) error {
	m := toRecurringModel(sc)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.Collection(collRecurring).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		if isDuplicateKey(err) {
			return rotor.ErrRecurringExists
		}
		return fmt.Errorf("rotor/mongo: update recurring: %w", err)
	}
	if res.MatchedCount == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

// DeleteRecurring removes a schedule.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID id.RecurringID) error {
	res, err := s.db.Collection(collRecurring).DeleteOne(ctx, bson.M{"_id": recurringID.String()})
	if err != nil {
		return fmt.Errorf("rotor/mongo: delete recurring: %w", err)
	}
	if res.DeletedCount == 0 {
		return rotor.ErrRecurringNotFound
	}
	return nil
}

package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/queue"
)

// EnqueueEntries stores a batch of new entries in one round trip.
func (s *Store) EnqueueEntries(ctx context.Context, entries []*queue.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = toEntryModel(e)
	}

	_, err := s.db.Collection(collEntries).InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("rotor/mongo: enqueue entries: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*queue.Entry, error) {
	var m entryModel
	err := s.db.Collection(collEntries).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rotor.ErrEntryNotFound
		}
		return nil, fmt.Errorf("rotor/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

// ListEntriesByJob returns all entries of a job, oldest first.
func (s *Store) ListEntriesByJob(ctx context.Context, jobID id.JobID) ([]*queue.Entry, error) {
	cursor, err := s.db.Collection(collEntries).Find(ctx,
		bson.M{"job_id": jobID.String()},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list entries by job: %w", err)
	}
	defer cursor.Close(ctx)

	return collectEntries(ctx, cursor)
}

// ClaimNext atomically claims the highest-priority, oldest claimable entry
// for a worker. FindOneAndUpdate is a single-document atomic: concurrent
// schedulers match distinct documents or none, never the same one twice.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*queue.Entry, error) {
	filter := bson.M{
		"status": string(queue.StatusQueued),
		"held":   false,
		"$or": bson.A{
			bson.M{"not_before": nil},
			bson.M{"not_before": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      string(queue.StatusAssigned),
			"worker_id":   workerID.String(),
			"assigned_at": now,
			"updated_at":  now,
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	var m entryModel
	err := s.db.Collection(collEntries).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotor/mongo: claim next entry: %w", err)
	}
	return fromEntryModel(&m)
}

// MarkEntryProcessing transitions assigned → processing and persists the
// resolved account binding in the same write.
func (s *Store) MarkEntryProcessing(ctx context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error {
	res, err := s.db.Collection(collEntries).UpdateOne(ctx,
		bson.M{"_id": entryID.String(), "status": string(queue.StatusAssigned)},
		bson.M{
			"$set": bson.M{
				"status":     string(queue.StatusProcessing),
				"account_id": accountID.String(),
				"started_at": now,
				"updated_at": now,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: mark entry processing: %w", err)
	}
	if res.MatchedCount == 0 {
		found, existsErr := s.exists(ctx, collEntries, entryID)
		if existsErr != nil {
			return existsErr
		}
		if found {
			return rotor.ErrInvalidState
		}
		return rotor.ErrEntryNotFound
	}
	return nil
}

// ReleaseEntry puts an assigned or processing entry back to queued without
// consuming retry budget.
func (s *Store) ReleaseEntry(ctx context.Context, entryID id.EntryID, delay time.Duration, now time.Time) error {
	coll := s.db.Collection(collEntries)

	for range casRetries {
		var m entryModel
		err := coll.FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return rotor.ErrEntryNotFound
			}
			return fmt.Errorf("rotor/mongo: release entry: %w", err)
		}

		e, convErr := fromEntryModel(&m)
		if convErr != nil {
			return convErr
		}
		if e.Status != queue.StatusAssigned && e.Status != queue.StatusProcessing {
			return nil
		}

		e.Release(now)
		if delay > 0 {
			nb := now.Add(delay)
			e.NotBefore = &nb
		}

		next := toEntryModel(e)
		next.Version = m.Version + 1

		res, repErr := coll.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": m.Version}, next)
		if repErr != nil {
			return fmt.Errorf("rotor/mongo: release entry: %w", repErr)
		}
		if res.MatchedCount > 0 {
			return nil
		}
	}
	return fmt.Errorf("rotor/mongo: release entry %s: version conflict persisted after %d retries", entryID, casRetries)
}

// FinalizeEntry applies one execution outcome under the version
// compare-and-swap. Entries already terminal return unchanged with
// applied=false so a duplicate finalize cannot double-count job outcomes.
func (s *Store) FinalizeEntry(ctx context.Context, entryID id.EntryID, outcome rotor.Outcome, reason string, retryDelay time.Duration, now time.Time) (*queue.Entry, bool, error) {
	coll := s.db.Collection(collEntries)

	for range casRetries {
		var m entryModel
		err := coll.FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return nil, false, rotor.ErrEntryNotFound
			}
			return nil, false, fmt.Errorf("rotor/mongo: finalize entry: %w", err)
		}

		e, convErr := fromEntryModel(&m)
		if convErr != nil {
			return nil, false, convErr
		}
		if e.Status.Terminal() {
			return e, false, nil
		}

		queue.ApplyFinalize(e, outcome, reason, retryDelay, now)

		next := toEntryModel(e)
		next.Version = m.Version + 1

		res, repErr := coll.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": m.Version}, next)
		if repErr != nil {
			return nil, false, fmt.Errorf("rotor/mongo: finalize entry: %w", repErr)
		}
		if res.MatchedCount > 0 {
			return e, true, nil
		}
	}
	return nil, false, fmt.Errorf("rotor/mongo: finalize entry %s: version conflict persisted after %d retries", entryID, casRetries)
}

// RequeueOrphans releases assigned or processing entries whose claim is
// older than olderThan back to queued. Recovery after a worker crash. The
// $ifNull chain mirrors the SQL COALESCE over started/assigned/updated
// stamps and needs MongoDB 5.0+.
func (s *Store) RequeueOrphans(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-olderThan)

	res, err := s.db.Collection(collEntries).UpdateMany(ctx,
		bson.M{
			"status": bson.M{"$in": []string{
				string(queue.StatusAssigned),
				string(queue.StatusProcessing),
			}},
			"$expr": bson.M{"$lte": bson.A{
				bson.M{"$ifNull": bson.A{"$started_at", "$assigned_at", "$updated_at"}},
				cutoff,
			}},
		},
		bson.M{
			"$set": bson.M{
				"status":     string(queue.StatusQueued),
				"worker_id":  "",
				"account_id": "",
				"updated_at": now,
			},
			"$unset": bson.M{"assigned_at": "", "started_at": ""},
			"$inc":   bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: requeue orphans: %w", err)
	}
	return res.ModifiedCount, nil
}

// HoldEntries excludes a job's queued entries from claiming.
func (s *Store) HoldEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	res, err := s.db.Collection(collEntries).UpdateMany(ctx,
		bson.M{"job_id": jobID.String(), "status": string(queue.StatusQueued), "held": false},
		bson.M{
			"$set": bson.M{"held": true, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: hold entries: %w", err)
	}
	return res.ModifiedCount, nil
}

// UnholdEntries puts a job's held entries back in claimable state.
func (s *Store) UnholdEntries(ctx context.Context, jobID id.JobID) (int64, error) {
	res, err := s.db.Collection(collEntries).UpdateMany(ctx,
		bson.M{"job_id": jobID.String(), "held": true},
		bson.M{
			"$set": bson.M{"held": false, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: unhold entries: %w", err)
	}
	return res.ModifiedCount, nil
}

// CancelQueuedEntries terminally fails a job's queued entries with the
// given reason. In-flight entries are left to finalize normally.
func (s *Store) CancelQueuedEntries(ctx context.Context, jobID id.JobID, reason string, now time.Time) (int64, error) {
	res, err := s.db.Collection(collEntries).UpdateMany(ctx,
		bson.M{"job_id": jobID.String(), "status": string(queue.StatusQueued)},
		bson.M{
			"$set": bson.M{
				"status":       string(queue.StatusFailed),
				"last_error":   reason,
				"completed_at": now,
				"held":         false,
				"updated_at":   now,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: cancel queued entries: %w", err)
	}
	return res.ModifiedCount, nil
}

// CountEntries returns entry counts grouped by status.
func (s *Store) CountEntries(ctx context.Context) (map[queue.Status]int, error) {
	cursor, err := s.db.Collection(collEntries).Aggregate(ctx, bson.A{
		bson.M{"$group": bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: count entries: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Status string `bson:"_id"`
		N      int    `bson:"n"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("rotor/mongo: count entries decode: %w", err)
	}

	counts := make(map[queue.Status]int, len(groups))
	for _, g := range groups {
		counts[queue.Status(g.Status)] = g.N
	}
	return counts, nil
}

// collectEntries decodes and converts all entries from a cursor.
func collectEntries(ctx context.Context, cursor *mongo.Cursor) ([]*queue.Entry, error) {
	var models []entryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: decode entry documents: %w", err)
	}

	entries := make([]*queue.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromEntryModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: convert entry document: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

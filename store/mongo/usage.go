package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// AppendUsage stores one attempt record.
func (s *Store) AppendUsage(ctx context.Context, rec *account.UsageRecord) error {
	_, err := s.db.Collection(collUsage).InsertOne(ctx, toUsageModel(rec))
	if err != nil {
		return fmt.Errorf("rotor/mongo: append usage: %w", err)
	}
	return nil
}

// ListUsage returns records for an account recorded at or after since,
// newest first.
func (s *Store) ListUsage(ctx context.Context, accountID id.AccountID, since time.Time, limit int) ([]*account.UsageRecord, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "recorded_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(collUsage).Find(ctx,
		bson.M{
			"account_id":  accountID.String(),
			"recorded_at": bson.M{"$gte": since},
		},
		findOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list usage: %w", err)
	}
	defer cursor.Close(ctx)

	var models []usageModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: list usage decode: %w", err)
	}

	records := make([]*account.UsageRecord, 0, len(models))
	for i := range models {
		rec, convErr := fromUsageModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: list usage convert: %w", convErr)
		}
		records = append(records, rec)
	}
	return records, nil
}

// PruneUsage deletes records recorded before the cutoff.
func (s *Store) PruneUsage(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.Collection(collUsage).DeleteMany(ctx,
		bson.M{"recorded_at": bson.M{"$lt": olderThan}},
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: prune usage: %w", err)
	}
	return res.DeletedCount, nil
}

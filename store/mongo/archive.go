package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/id"
)

// PushArchive persists a new archive record.
func (s *Store) PushArchive(ctx context.Context, rec *archive.Record) error {
	_, err := s.db.Collection(collArchive).InsertOne(ctx, toArchiveModel(rec))
	if err != nil {
		return fmt.Errorf("rotor/mongo: push archive: %w", err)
	}
	return nil
}

// GetArchive retrieves a record by ID.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	var m archiveModel
	err := s.db.Collection(collArchive).FindOne(ctx, bson.M{"_id": archiveID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rotor.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("rotor/mongo: get archive: %w", err)
	}
	return fromArchiveModel(&m)
}

// ListArchive returns records matching the options, newest failures first.
func (s *Store) ListArchive(ctx context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if !opts.JobID.IsNil() {
		filter["job_id"] = opts.JobID.String()
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(collArchive).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list archive: %w", err)
	}
	defer cursor.Close(ctx)

	var models []archiveModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: list archive decode: %w", err)
	}

	records := make([]*archive.Record, 0, len(models))
	for i := range models {
		rec, convErr := fromArchiveModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: list archive convert: %w", convErr)
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkReplayed stamps a record as replayed.
func (s *Store) MarkReplayed(ctx context.Context, archiveID id.ArchiveID, at time.Time) error {
	res, err := s.db.Collection(collArchive).UpdateOne(ctx,
		bson.M{"_id": archiveID.String()},
		bson.M{"$set": bson.M{"replayed_at": at}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: mark replayed: %w", err)
	}
	if res.MatchedCount == 0 {
		return rotor.ErrArchiveNotFound
	}
	return nil
}

// PurgeArchive removes records that failed before the given time.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(collArchive).DeleteMany(ctx,
		bson.M{"failed_at": bson.M{"$lt": before}},
	)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: purge archive: %w", err)
	}
	return res.DeletedCount, nil
}

// CountArchive returns the total number of archive records.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(collArchive).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: count archive: %w", err)
	}
	return n, nil
}

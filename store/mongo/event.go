package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
)

// eventCounterID keys the seq allocator document in the counters
// collection.
const eventCounterID = "events"

// AppendEvent persists one feed item. The seq allocated from the counters
// collection preserves append order for the cursor reads.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	seq, err := s.nextEventSeq(ctx)
	if err != nil {
		return err
	}

	_, err = s.db.Collection(collEvents).InsertOne(ctx, toEventModel(evt, seq))
	if err != nil {
		return fmt.Errorf("rotor/mongo: append event: %w", err)
	}
	return nil
}

// ListEventsByJob returns a job's events in append order, strictly after
// the given event ID. An unknown cursor yields the empty set.
func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, after id.EventID, limit int) ([]*event.Event, error) {
	filter := bson.M{"job_id": jobID.String()}

	if !after.IsNil() {
		var cursorDoc eventModel
		err := s.db.Collection(collEvents).FindOne(ctx, bson.M{"_id": after.String()}).Decode(&cursorDoc)
		if err != nil {
			if isNoDocuments(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("rotor/mongo: resolve event cursor: %w", err)
		}
		filter["seq"] = bson.M{"$gt": cursorDoc.Seq}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(collEvents).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list events by job: %w", err)
	}
	defer cursor.Close(ctx)

	var models []eventModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: list events decode: %w", err)
	}

	events := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, convErr := fromEventModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: list events convert: %w", convErr)
		}
		events = append(events, evt)
	}
	return events, nil
}

// nextEventSeq allocates the next append-order number. The upserted $inc
// is atomic on the counter document, so concurrent appends get distinct,
// increasing values.
func (s *Store) nextEventSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": eventCounterID},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("rotor/mongo: allocate event seq: %w", err)
	}
	return counter.Value, nil
}

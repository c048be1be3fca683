package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor/id"
)

// casRetries bounds the reload-and-retry loops that stand in for row
// locks. A conflict means another instance wrote the same document
// between our read and our guarded write; the loop reloads and reapplies.
// Sized for a full worker pool contending on one hot account.
const casRetries = 20

// isNoDocuments returns true when err indicates no document was found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// isDuplicateKey checks if an error is a unique index violation.
func isDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// exists reports whether a document with the given ID is present in coll.
// Conditional updates that match zero documents use it to tell "not
// found" apart from "found but in the wrong state". The collection name
// is always a compile-time constant at call sites.
func (s *Store) exists(ctx context.Context, coll string, rowID id.ID) (bool, error) {
	n, err := s.db.Collection(coll).CountDocuments(ctx,
		bson.M{"_id": rowID.String()},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("rotor/mongo: check %s document: %w", coll, err)
	}
	return n > 0, nil
}

package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// CreateAccount stores a new account.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.db.Collection(collAccounts).InsertOne(ctx, toAccountModel(a))
	if err != nil {
		return fmt.Errorf("rotor/mongo: create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var m accountModel
	err := s.db.Collection(collAccounts).FindOne(ctx, bson.M{"_id": accountID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rotor.ErrAccountNotFound
		}
		return nil, fmt.Errorf("rotor/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

// ListAccounts returns all accounts belonging to a tenant.
func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	cursor, err := s.db.Collection(collAccounts).Find(ctx,
		bson.M{"tenant_id": tenantID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var models []accountModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("rotor/mongo: list accounts decode: %w", err)
	}

	accounts := make([]*account.Account, 0, len(models))
	for i := range models {
		a, convErr := fromAccountModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("rotor/mongo: list accounts convert: %w", convErr)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// UpdateAccount persists administrative edits to an existing account. The
// version bump invalidates any ApplyAttempt compare-and-swap in flight,
// which then reloads and lands on top of the edit.
func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.db.Collection(collAccounts).UpdateOne(ctx,
		bson.M{"_id": a.ID.String()},
		bson.M{
			"$set": bson.M{
				"tenant_id":            a.TenantID,
				"label":                a.Label,
				"active":               a.Active,
				"validation_state":     string(a.ValidationState),
				"credential":           a.Credential,
				"daily_limit":          a.DailyLimit,
				"requests_today":       a.RequestsToday,
				"last_request_at":      a.LastRequestAt,
				"min_delay":            a.MinDelay.Nanoseconds(),
				"consecutive_failures": a.ConsecutiveFailures,
				"cooldown_until":       a.CooldownUntil,
				"blocked_until":        a.BlockedUntil,
				"updated_at":           time.Now().UTC(),
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return rotor.ErrAccountNotFound
	}
	return nil
}

// RecordDispatch atomically moves the request counter and last-request
// stamp for one dispatched request. The compare-and-swap on the version
// field serializes concurrent dispatches so the day rollover cannot lose
// increments.
func (s *Store) RecordDispatch(ctx context.Context, accountID id.AccountID, now time.Time) (*account.Account, error) {
	coll := s.db.Collection(collAccounts)

	for range casRetries {
		var m accountModel
		err := coll.FindOne(ctx, bson.M{"_id": accountID.String()}).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return nil, rotor.ErrAccountNotFound
			}
			return nil, fmt.Errorf("rotor/mongo: record dispatch: %w", err)
		}

		a, convErr := fromAccountModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		account.ApplyDispatch(a, now)

		next := toAccountModel(a)
		next.Version = m.Version + 1

		res, repErr := coll.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": m.Version}, next)
		if repErr != nil {
			return nil, fmt.Errorf("rotor/mongo: record dispatch: %w", repErr)
		}
		if res.MatchedCount > 0 {
			return a, nil
		}
		// Lost the swap; reload and reapply.
	}
	return nil, fmt.Errorf("rotor/mongo: record dispatch on %s: version conflict persisted after %d retries", accountID, casRetries)
}

// ApplyAttempt atomically applies one settled execution outcome to an
// account. The compare-and-swap on the version field stands in for a row
// lock: concurrent completions for the same account reload and reapply
// instead of losing counter updates.
func (s *Store) ApplyAttempt(ctx context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*account.Account, error) {
	coll := s.db.Collection(collAccounts)

	for range casRetries {
		var m accountModel
		err := coll.FindOne(ctx, bson.M{"_id": accountID.String()}).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				return nil, rotor.ErrAccountNotFound
			}
			return nil, fmt.Errorf("rotor/mongo: apply attempt: %w", err)
		}

		a, convErr := fromAccountModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		account.ApplyOutcome(a, outcome, p, now)

		next := toAccountModel(a)
		next.Version = m.Version + 1

		res, repErr := coll.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": m.Version}, next)
		if repErr != nil {
			return nil, fmt.Errorf("rotor/mongo: apply attempt: %w", repErr)
		}
		if res.MatchedCount > 0 {
			return a, nil
		}
		// Lost the swap; reload and reapply.
	}
	return nil, fmt.Errorf("rotor/mongo: apply attempt on %s: version conflict persisted after %d retries", accountID, casRetries)
}

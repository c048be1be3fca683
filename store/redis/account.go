package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// CreateAccount stores the account as a Hash and indexes it for its tenant.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	aID := a.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, accountKey(aID), accountToMap(a))
	pipe.SAdd(ctx, accountIDsKey, aID)
	pipe.SAdd(ctx, tenantAccountsKey(a.TenantID), aID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotor/redis: create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return s.getAccountByKey(ctx, accountKey(accountID.String()))
}

// ListAccounts returns a tenant's accounts, oldest first.
func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	ids, err := s.client.SMembers(ctx, tenantAccountsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: list accounts: %w", err)
	}

	accounts := make([]*account.Account, 0, len(ids))
	for _, aID := range ids {
		a, getErr := s.getAccountByKey(ctx, accountKey(aID))
		if getErr != nil {
			continue // skip missing
		}
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID.String() < accounts[j].ID.String()
	})
	return accounts, nil
}

// UpdateAccount persists changes to an existing account.
func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	key := accountKey(a.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rotor/redis: update account exists: %w", err)
	}
	if exists == 0 {
		return rotor.ErrAccountNotFound
	}

	fields := accountToMap(a)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("rotor/redis: update account: %w", err)
	}
	return nil
}

// RecordDispatch moves the request counter and last-request stamp for
// one dispatched request, returning the updated account. The
// read-modify-write has no lock: concurrent dispatches on one account
// are last-writer-wins.
func (s *Store) RecordDispatch(ctx context.Context, accountID id.AccountID, now time.Time) (*account.Account, error) {
	key := accountKey(accountID.String())

	a, err := s.getAccountByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	account.ApplyDispatch(a, now)

	if _, err := s.client.HSet(ctx, key, accountToMap(a)).Result(); err != nil {
		return nil, fmt.Errorf("rotor/redis: record dispatch: %w", err)
	}
	return a, nil
}

// ApplyAttempt records one settled request outcome against the account's
// failure counters under the escalation policy, returning the updated
// account. The read-modify-write has no lock: concurrent attempts on one
// account are last-writer-wins.
func (s *Store) ApplyAttempt(ctx context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*account.Account, error) {
	key := accountKey(accountID.String())

	a, err := s.getAccountByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	account.ApplyOutcome(a, outcome, p, now)

	if _, err := s.client.HSet(ctx, key, accountToMap(a)).Result(); err != nil {
		return nil, fmt.Errorf("rotor/redis: apply attempt: %w", err)
	}
	return a, nil
}

// ── helpers ──

func accountToMap(a *account.Account) map[string]interface{} {
	return map[string]interface{}{
		"id":                   a.ID.String(),
		"tenant_id":            a.TenantID,
		"label":                a.Label,
		"active":               boolToStr(a.Active),
		"validation_state":     string(a.ValidationState),
		"credential":           string(a.Credential),
		"daily_limit":          strconv.Itoa(a.DailyLimit),
		"requests_today":       strconv.Itoa(a.RequestsToday),
		"last_request_at":      timeToStr(a.LastRequestAt),
		"min_delay":            strconv.FormatInt(int64(a.MinDelay), 10),
		"consecutive_failures": strconv.Itoa(a.ConsecutiveFailures),
		"cooldown_until":       timeToStr(a.CooldownUntil),
		"blocked_until":        timeToStr(a.BlockedUntil),
		"created_at":           a.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":           a.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getAccountByKey(ctx context.Context, key string) (*account.Account, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: get account: %w", err)
	}
	if len(vals) == 0 {
		return nil, rotor.ErrAccountNotFound
	}
	return mapToAccount(vals)
}

func mapToAccount(m map[string]string) (*account.Account, error) {
	aID, err := id.ParseAccountID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("rotor/redis: parse account id: %w", err)
	}

	dailyLimit, _ := strconv.Atoi(m["daily_limit"])               //nolint:errcheck // best-effort parse from trusted Redis data
	requestsToday, _ := strconv.Atoi(m["requests_today"])         //nolint:errcheck // best-effort parse from trusted Redis data
	failures, _ := strconv.Atoi(m["consecutive_failures"])        //nolint:errcheck // best-effort parse from trusted Redis data
	minDelay, _ := strconv.ParseInt(m["min_delay"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	a := &account.Account{
		Entity: rotor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                  aID,
		TenantID:            m["tenant_id"],
		Label:               m["label"],
		Active:              m["active"] == "1",
		ValidationState:     account.ValidationState(m["validation_state"]),
		DailyLimit:          dailyLimit,
		RequestsToday:       requestsToday,
		LastRequestAt:       strToTime(m["last_request_at"]),
		MinDelay:            time.Duration(minDelay),
		ConsecutiveFailures: failures,
		CooldownUntil:       strToTime(m["cooldown_until"]),
		BlockedUntil:        strToTime(m["blocked_until"]),
	}
	if cred := m["credential"]; cred != "" {
		a.Credential = []byte(cred)
	}
	return a, nil
}

package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// CreateAccount stores a new account.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	m := toAccountModel(a)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrAccountNotFound
		}
		return nil, fmt.Errorf("rotor/bun: get account: %w", err)
	}
	return fromAccountModel(m), nil
}

// ListAccounts returns all accounts belonging to a tenant.
func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	var models []accountModel
	err := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotor/bun: list accounts: %w", err)
	}

	accounts := make([]*account.Account, 0, len(models))
	for i := range models {
		accounts = append(accounts, fromAccountModel(&models[i]))
	}
	return accounts, nil
}

// UpdateAccount persists administrative edits to an existing account.
func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	m := toAccountModel(a)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("rotor/bun: update account: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return rotor.ErrAccountNotFound
	}
	return nil
}

// RecordDispatch atomically moves the request counter and last-request
// stamp for one dispatched request. The row lock serializes concurrent
// dispatches so the day rollover cannot lose increments.
func (s *Store) RecordDispatch(ctx context.Context, accountID id.AccountID, now time.Time) (*account.Account, error) {
	var updated *account.Account
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(accountModel)
		txErr := tx.NewSelect().Model(m).
			Where("id = ?", accountID).
			For("UPDATE").
			Scan(ctx)
		if txErr != nil {
			if isNoRows(txErr) {
				return rotor.ErrAccountNotFound
			}
			return fmt.Errorf("rotor/bun: lock account: %w", txErr)
		}

		a := fromAccountModel(m)
		account.ApplyDispatch(a, now)

		_, txErr = tx.NewUpdate().Model(toAccountModel(a)).
			Column("requests_today", "last_request_at", "updated_at").
			WherePK().
			Exec(ctx)
		if txErr != nil {
			return fmt.Errorf("rotor/bun: record dispatch: %w", txErr)
		}

		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyAttempt atomically applies one settled execution outcome to an
// account. The row lock holds the account still while the escalation
// decision lands, so concurrent completions for the same account
// serialize instead of losing updates.
func (s *Store) ApplyAttempt(ctx context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*account.Account, error) {
	var updated *account.Account
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(accountModel)
		txErr := tx.NewSelect().Model(m).
			Where("id = ?", accountID).
			For("UPDATE").
			Scan(ctx)
		if txErr != nil {
			if isNoRows(txErr) {
				return rotor.ErrAccountNotFound
			}
			return fmt.Errorf("rotor/bun: lock account: %w", txErr)
		}

		a := fromAccountModel(m)
		account.ApplyOutcome(a, outcome, p, now)

		_, txErr = tx.NewUpdate().Model(toAccountModel(a)).
			Column("consecutive_failures", "cooldown_until",
				"blocked_until", "updated_at").
			WherePK().
			Exec(ctx)
		if txErr != nil {
			return fmt.Errorf("rotor/bun: apply attempt: %w", txErr)
		}

		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

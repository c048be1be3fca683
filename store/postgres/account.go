package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// CreateAccount stores a new account.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotor_accounts (
			id, tenant_id, label, active, validation_state, credential,
			daily_limit, requests_today, last_request_at, min_delay,
			consecutive_failures, cooldown_until, blocked_until,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15
		)`,
		a.ID, a.TenantID, a.Label, a.Active, string(a.ValidationState), a.Credential,
		a.DailyLimit, a.RequestsToday, a.LastRequestAt, a.MinDelay.Nanoseconds(),
		a.ConsecutiveFailures, a.CooldownUntil, a.BlockedUntil,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, tenant_id, label, active, validation_state, credential,
			daily_limit, requests_today, last_request_at, min_delay,
			consecutive_failures, cooldown_until, blocked_until,
			created_at, updated_at
		FROM rotor_accounts
		WHERE id = $1`,
		accountID,
	)

	a, err := scanAccount(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrAccountNotFound
		}
		return nil, fmt.Errorf("rotor/postgres: get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts belonging to a tenant.
func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, tenant_id, label, active, validation_state, credential,
			daily_limit, requests_today, last_request_at, min_delay,
			consecutive_failures, cooldown_until, blocked_until,
			created_at, updated_at
		FROM rotor_accounts
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/postgres: list accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// UpdateAccount persists administrative edits to an existing account.
func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rotor_accounts SET
			tenant_id = $2, label = $3, active = $4, validation_state = $5,
			credential = $6, daily_limit = $7, requests_today = $8,
			last_request_at = $9, min_delay = $10, consecutive_failures = $11,
			cooldown_until = $12, blocked_until = $13, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.TenantID, a.Label, a.Active, string(a.ValidationState),
		a.Credential, a.DailyLimit, a.RequestsToday,
		a.LastRequestAt, a.MinDelay.Nanoseconds(), a.ConsecutiveFailures,
		a.CooldownUntil, a.BlockedUntil,
	)
	if err != nil {
		return fmt.Errorf("rotor/postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rotor.ErrAccountNotFound
	}
	return nil
}

// RecordDispatch atomically moves the request counter and last-request
// stamp for one dispatched request. The row lock serializes concurrent
// dispatches so the day rollover cannot lose increments.
func (s *Store) RecordDispatch(ctx context.Context, accountID id.AccountID, now time.Time) (*account.Account, error) {
	var updated *account.Account
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT
				id, tenant_id, label, active, validation_state, credential,
				daily_limit, requests_today, last_request_at, min_delay,
				consecutive_failures, cooldown_until, blocked_until,
				created_at, updated_at
			FROM rotor_accounts
			WHERE id = $1
			FOR UPDATE`,
			accountID,
		)

		a, scanErr := scanAccount(row)
		if scanErr != nil {
			if isNoRows(scanErr) {
				return rotor.ErrAccountNotFound
			}
			return fmt.Errorf("rotor/postgres: record dispatch: %w", scanErr)
		}

		account.ApplyDispatch(a, now)

		_, execErr := tx.Exec(ctx, `
			UPDATE rotor_accounts SET
				requests_today = $2, last_request_at = $3, updated_at = $4
			WHERE id = $1`,
			a.ID, a.RequestsToday, a.LastRequestAt, a.UpdatedAt,
		)
		if execErr != nil {
			return fmt.Errorf("rotor/postgres: record dispatch: %w", execErr)
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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT
				id, tenant_id, label, active, validation_state, credential,
				daily_limit, requests_today, last_request_at, min_delay,
				consecutive_failures, cooldown_until, blocked_until,
				created_at, updated_at
			FROM rotor_accounts
			WHERE id = $1
			FOR UPDATE`,
			accountID,
		)

		a, scanErr := scanAccount(row)
		if scanErr != nil {
			if isNoRows(scanErr) {
				return rotor.ErrAccountNotFound
			}
			return fmt.Errorf("rotor/postgres: apply attempt: %w", scanErr)
		}

		account.ApplyOutcome(a, outcome, p, now)

		_, execErr := tx.Exec(ctx, `
			UPDATE rotor_accounts SET
				consecutive_failures = $2, cooldown_until = $3,
				blocked_until = $4, updated_at = $5
			WHERE id = $1`,
			a.ID, a.ConsecutiveFailures, a.CooldownUntil,
			a.BlockedUntil, a.UpdatedAt,
		)
		if execErr != nil {
			return fmt.Errorf("rotor/postgres: apply attempt: %w", execErr)
		}

		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// scanAccount scans a single account row.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a          account.Account
		stateStr   string
		minDelayNs int64
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Label, &a.Active, &stateStr, &a.Credential,
		&a.DailyLimit, &a.RequestsToday, &a.LastRequestAt, &minDelayNs,
		&a.ConsecutiveFailures, &a.CooldownUntil, &a.BlockedUntil,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ValidationState = account.ValidationState(stateStr)
	a.MinDelay = time.Duration(minDelayNs)

	return &a, nil
}

// collectAccounts collects all accounts from query rows.
func collectAccounts(rows pgx.Rows) ([]*account.Account, error) {
	var accounts []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/postgres: scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/postgres: iterate account rows: %w", err)
	}
	return accounts, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// CreateAccount stores a new account.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rotor_accounts (
			id, tenant_id, label, active, validation_state, credential,
			daily_limit, requests_today, last_request_at, min_delay,
			consecutive_failures, cooldown_until, blocked_until,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?,
			?, ?
		)`,
		a.ID, a.TenantID, a.Label, a.Active, string(a.ValidationState), a.Credential,
		a.DailyLimit, a.RequestsToday, timeToNanos(a.LastRequestAt), a.MinDelay.Nanoseconds(),
		a.ConsecutiveFailures, timeToNanos(a.CooldownUntil), timeToNanos(a.BlockedUntil),
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, tenant_id, label, active, validation_state, credential,
			daily_limit, requests_today, last_request_at, min_delay,
			consecutive_failures, cooldown_until, blocked_until,
			created_at, updated_at
		FROM rotor_accounts
		WHERE id = ?`,
		accountID,
	)

	a, err := scanAccount(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rotor.ErrAccountNotFound
		}
		return nil, fmt.Errorf("rotor/sqlite: get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts belonging to a tenant.
func (s *Store) ListAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, tenant_id, label, active, validation_state, credential,
			daily_limit, requests_today, last_request_at, min_delay,
			consecutive_failures, cooldown_until, blocked_until,
			created_at, updated_at
		FROM rotor_accounts
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("rotor/sqlite: list accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// UpdateAccount persists administrative edits to an existing account.
func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rotor_accounts SET
			tenant_id = ?, label = ?, active = ?, validation_state = ?,
			credential = ?, daily_limit = ?, requests_today = ?,
			last_request_at = ?, min_delay = ?, consecutive_failures = ?,
			cooldown_until = ?, blocked_until = ?, updated_at = ?
		WHERE id = ?`,
		a.TenantID, a.Label, a.Active, string(a.ValidationState),
		a.Credential, a.DailyLimit, a.RequestsToday,
		timeToNanos(a.LastRequestAt), a.MinDelay.Nanoseconds(), a.ConsecutiveFailures,
		timeToNanos(a.CooldownUntil), timeToNanos(a.BlockedUntil), time.Now().UTC().UnixNano(),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("rotor/sqlite: update account: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return rotor.ErrAccountNotFound
	}
	return nil
}

// RecordDispatch atomically moves the request counter and last-request
// stamp for one dispatched request. The transaction serializes concurrent
// dispatches so the day rollover cannot lose increments.
func (s *Store) RecordDispatch(ctx context.Context, accountID id.AccountID, now time.Time) (*account.Account, error) {
	var updated *account.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT
				id, tenant_id, label, active, validation_state, credential,
				daily_limit, requests_today, last_request_at, min_delay,
				consecutive_failures, cooldown_until, blocked_until,
				created_at, updated_at
			FROM rotor_accounts
			WHERE id = ?`,
			accountID,
		)

		a, scanErr := scanAccount(row)
		if scanErr != nil {
			if isNoRows(scanErr) {
				return rotor.ErrAccountNotFound
			}
			return fmt.Errorf("rotor/sqlite: record dispatch: %w", scanErr)
		}

		account.ApplyDispatch(a, now)

		_, execErr := tx.ExecContext(ctx, `
			UPDATE rotor_accounts SET
				requests_today = ?, last_request_at = ?, updated_at = ?
			WHERE id = ?`,
			a.RequestsToday, timeToNanos(a.LastRequestAt),
			a.UpdatedAt.UnixNano(), a.ID,
		)
		if execErr != nil {
			return fmt.Errorf("rotor/sqlite: record dispatch: %w", execErr)
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
// account. The transaction holds the account still while the escalation
// decision lands, so concurrent completions for the same account
// serialize instead of losing updates.
func (s *Store) ApplyAttempt(ctx context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*account.Account, error) {
	var updated *account.Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT
				id, tenant_id, label, active, validation_state, credential,
				daily_limit, requests_today, last_request_at, min_delay,
				consecutive_failures, cooldown_until, blocked_until,
				created_at, updated_at
			FROM rotor_accounts
			WHERE id = ?`,
			accountID,
		)

		a, scanErr := scanAccount(row)
		if scanErr != nil {
			if isNoRows(scanErr) {
				return rotor.ErrAccountNotFound
			}
			return fmt.Errorf("rotor/sqlite: apply attempt: %w", scanErr)
		}

		account.ApplyOutcome(a, outcome, p, now)

		_, execErr := tx.ExecContext(ctx, `
			UPDATE rotor_accounts SET
				consecutive_failures = ?, cooldown_until = ?,
				blocked_until = ?, updated_at = ?
			WHERE id = ?`,
			a.ConsecutiveFailures, timeToNanos(a.CooldownUntil),
			timeToNanos(a.BlockedUntil), a.UpdatedAt.UnixNano(),
			a.ID,
		)
		if execErr != nil {
			return fmt.Errorf("rotor/sqlite: apply attempt: %w", execErr)
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
func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		a           account.Account
		stateStr    string
		minDelayNs  int64
		lastRequest sql.NullInt64
		cooldown    sql.NullInt64
		blocked     sql.NullInt64
		createdNs   int64
		updatedNs   int64
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Label, &a.Active, &stateStr, &a.Credential,
		&a.DailyLimit, &a.RequestsToday, &lastRequest, &minDelayNs,
		&a.ConsecutiveFailures, &cooldown, &blocked,
		&createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}

	a.ValidationState = account.ValidationState(stateStr)
	a.MinDelay = time.Duration(minDelayNs)
	a.LastRequestAt = nanosToTime(lastRequest)
	a.CooldownUntil = nanosToTime(cooldown)
	a.BlockedUntil = nanosToTime(blocked)
	a.CreatedAt = fromNanos(createdNs)
	a.UpdatedAt = fromNanos(updatedNs)

	return &a, nil
}

// collectAccounts collects all accounts from query rows.
func collectAccounts(rows *sql.Rows) ([]*account.Account, error) {
	var accounts []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("rotor/sqlite: scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rotor/sqlite: iterate account rows: %w", err)
	}
	return accounts, nil
}

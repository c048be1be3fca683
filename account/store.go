package account

import (
	"context"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// Store is the persistence contract for accounts. Implementations must
// make RecordDispatch and ApplyAttempt atomic per account: concurrent
// dispatches and completions for the same account must not lose counter
// updates.
type Store interface {
	// CreateAccount stores a new account.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount returns an account by ID, or rotor.ErrAccountNotFound.
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)

	// ListAccounts returns all accounts belonging to a tenant, including
	// ineligible ones. Order is unspecified.
	ListAccounts(ctx context.Context, tenantID string) ([]*Account, error)

	// UpdateAccount persists administrative edits (limits, active flag,
	// credential, validation state). Not for attempt bookkeeping.
	UpdateAccount(ctx context.Context, a *Account) error

	// RecordDispatch atomically moves the request counter and
	// last-request stamp for one dispatched request (see ApplyDispatch)
	// and returns the updated account. Called when the request leaves,
	// so eligibility gates see in-flight work.
	RecordDispatch(ctx context.Context, accountID id.AccountID, now time.Time) (*Account, error)

	// ApplyAttempt atomically applies one settled execution outcome to
	// the account under the given escalation policy (see ApplyOutcome)
	// and returns the updated account.
	ApplyAttempt(ctx context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*Account, error)
}

package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// EscalationHook is called when an attempt puts an account into cooldown
// or blocks it. Hooks run on the recording goroutine and must be cheap.
type EscalationHook func(ctx context.Context, a *Account, state escalate.State)

// Ledger is the single source of truth for account eligibility and health.
// It reports state and routes all account mutation through the store's
// atomic RecordDispatch and ApplyAttempt.
type Ledger struct {
	store        Store
	usage        UsageStore
	policy       escalate.Policy
	logger       *slog.Logger
	now          func() time.Time
	onEscalation EscalationHook
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithPolicy overrides the default escalation policy.
func WithPolicy(p escalate.Policy) LedgerOption {
	return func(l *Ledger) { l.policy = p }
}

// WithUsageStore enables append-only usage recording. Usage writes are
// best-effort: failures are logged, never propagated.
func WithUsageStore(u UsageStore) LedgerOption {
	return func(l *Ledger) { l.usage = u }
}

// WithLedgerLogger sets the ledger's logger.
func WithLedgerLogger(lg *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = lg }
}

// WithLedgerClock injects the time source. Tests use this to cross
// cooldown windows and day boundaries without sleeping.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithEscalationHook registers a callback for cooldown/block transitions.
func WithEscalationHook(h EscalationHook) LedgerOption {
	return func(l *Ledger) { l.onEscalation = h }
}

// NewLedger creates a Ledger over the given account store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		policy: escalate.Default(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the ledger's escalation policy.
func (l *Ledger) Policy() escalate.Policy { return l.policy }

// Eligible reports whether the account may execute a work item of the
// given type right now.
func (l *Ledger) Eligible(a *Account, jobType JobType) bool {
	return a.Eligible(jobType, l.now())
}

// Health returns the account's current derived health score.
func (l *Ledger) Health(a *Account) float64 {
	return a.HealthScore(l.now())
}

// Attempt identifies one execution attempt for recording.
type Attempt struct {
	AccountID id.AccountID
	JobID     id.JobID
	EntryID   id.EntryID
	TenantID  string
	Outcome   rotor.Outcome
}

// RecordDispatch moves the account's request counter and last-request
// stamp for one dispatched request, with lazy day rollover, in a single
// atomic store update. Recording at dispatch rather than settlement keeps
// the MinDelay spacing and daily-limit gates honest while the request is
// in flight. Returns the updated account.
func (l *Ledger) RecordDispatch(ctx context.Context, accountID id.AccountID) (*Account, error) {
	updated, err := l.store.RecordDispatch(ctx, accountID, l.now())
	if err != nil {
		return nil, fmt.Errorf("record dispatch: %w", err)
	}
	return updated, nil
}

// RecordAttempt applies one settled execution outcome to the account:
// failure counters and any escalation windows, in a single atomic store
// update. The request counter moved earlier, at RecordDispatch. A usage
// record is appended best-effort. Returns the updated account.
func (l *Ledger) RecordAttempt(ctx context.Context, att Attempt) (*Account, error) {
	now := l.now()

	updated, err := l.store.ApplyAttempt(ctx, att.AccountID, att.Outcome, l.policy, now)
	if err != nil {
		return nil, fmt.Errorf("apply attempt: %w", err)
	}

	if l.usage != nil {
		rec := &UsageRecord{
			ID:         id.NewUsageID(),
			AccountID:  att.AccountID,
			JobID:      att.JobID,
			EntryID:    att.EntryID,
			TenantID:   att.TenantID,
			Success:    att.Outcome.Success,
			Class:      att.Outcome.Class,
			Latency:    att.Outcome.Latency,
			RecordedAt: now,
		}
		if err := l.usage.AppendUsage(ctx, rec); err != nil {
			l.logger.Warn("usage append failed",
				"account_id", att.AccountID.String(),
				"job_id", att.JobID.String(),
				"error", err)
		}
	}

	l.emitEscalation(ctx, updated, att.Outcome, now)
	return updated, nil
}

func (l *Ledger) emitEscalation(ctx context.Context, a *Account, outcome rotor.Outcome, now time.Time) {
	if outcome.Success || l.onEscalation == nil {
		return
	}
	switch {
	case a.BlockedUntil != nil && a.BlockedUntil.After(now) &&
		(outcome.Class == rotor.ClassRateLimit || outcome.Class == rotor.ClassAuthentication):
		l.onEscalation(ctx, a, escalate.StateBlocked)
	case a.CooldownUntil != nil && a.CooldownUntil.After(now) &&
		a.ConsecutiveFailures >= l.policy.FailureThreshold:
		l.onEscalation(ctx, a, escalate.StateCooldown)
	}
}

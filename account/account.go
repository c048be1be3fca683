// Package account models the external identities jobs execute under and
// the two services that manage them: the Ledger (usage counters, cooldowns,
// blocks, health) and the Selector (strategy-based account choice).
package account

import (
	"encoding/json"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// ValidationState reports whether an account's credential has been
// verified against the external service.
type ValidationState string

const (
	// ValidationActive means the credential was verified and works.
	ValidationActive ValidationState = "active"
	// ValidationPending means the credential has not been verified yet.
	ValidationPending ValidationState = "pending"
	// ValidationInvalid means verification failed; the account needs
	// re-onboarding before it can execute work.
	ValidationInvalid ValidationState = "invalid"
)

// Account represents one external identity usable for executing jobs.
// All mutation goes through the Ledger; the Selector only reads.
type Account struct {
	rotor.Entity

	ID       id.AccountID `json:"id"`
	TenantID string       `json:"tenant_id"`
	Label    string       `json:"label,omitempty"`

	// Active is the soft-disable flag. Accounts referenced by historical
	// usage records are deactivated rather than deleted.
	Active          bool            `json:"active"`
	ValidationState ValidationState `json:"validation_state"`

	// Credential is the opaque session blob (cookies, tokens) the
	// execution engine needs. Only its structural validity matters here.
	Credential []byte `json:"credential,omitempty"`

	DailyLimit    int        `json:"daily_limit"`
	RequestsToday int        `json:"requests_today"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`

	// MinDelay is the minimum spacing between two requests on this
	// account. Enforced by eligibility, not by sleeping.
	MinDelay time.Duration `json:"min_delay,omitempty"`

	ConsecutiveFailures int        `json:"consecutive_failures"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	BlockedUntil        *time.Time `json:"blocked_until,omitempty"`
}

// UsedToday returns the request count for the current UTC day. The stored
// counter resets lazily at record time, so a counter left over from a
// previous day reads as zero.
func (a *Account) UsedToday(now time.Time) int {
	if a.LastRequestAt == nil || !sameDay(*a.LastRequestAt, now) {
		return 0
	}
	return a.RequestsToday
}

// Eligible reports whether this account may execute a work item of the
// given type right now: active, validated, not blocked, not cooling down,
// under its type-scaled daily limit, and past its minimum request spacing.
func (a *Account) Eligible(jobType JobType, now time.Time) bool {
	if !a.Active || a.ValidationState != ValidationActive {
		return false
	}
	if a.BlockedUntil != nil && !now.After(*a.BlockedUntil) {
		return false
	}
	if a.CooldownUntil != nil && !now.After(*a.CooldownUntil) {
		return false
	}
	if a.UsedToday(now) >= EffectiveLimit(a.DailyLimit, jobType) {
		return false
	}
	if a.LastRequestAt != nil && now.Sub(*a.LastRequestAt) < a.MinDelay {
		return false
	}
	return true
}

// CredentialValid reports whether the session credential is structurally
// sound: non-empty and parseable. It says nothing about whether the
// external service still accepts it.
func (a *Account) CredentialValid() bool {
	return len(a.Credential) > 0 && json.Valid(a.Credential)
}

// HealthScore derives a bounded [0,1] reliability measure from current
// state. Pure: safe to call speculatively during selection.
//
// Starts at 1.0, minus 0.1 per consecutive failure (that term floors at
// zero), minus 0.2 if the account was blocked within the last 24h, minus
// 0.4 if the credential is structurally invalid.
func (a *Account) HealthScore(now time.Time) float64 {
	score := 1.0 - 0.1*float64(a.ConsecutiveFailures)
	if score < 0 {
		score = 0
	}
	if a.BlockedUntil != nil && a.BlockedUntil.After(now.Add(-24*time.Hour)) {
		score -= 0.2
	}
	if !a.CredentialValid() {
		score -= 0.4
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ApplyDispatch mutates the account for one dispatched request: the daily
// counter rolls over on UTC day boundaries and the last-request stamp
// moves. Recording happens when the request leaves, not when it settles,
// so eligibility sees in-flight work and two dispatches on one account
// are never spaced closer than MinDelay. Stores call this inside their
// atomic update section; callers elsewhere must not.
func ApplyDispatch(a *Account, now time.Time) {
	if a.LastRequestAt != nil && sameDay(*a.LastRequestAt, now) {
		a.RequestsToday++
	} else {
		a.RequestsToday = 1
	}
	t := now
	a.LastRequestAt = &t
	a.Touch()
}

// ApplyOutcome mutates the account for one settled execution attempt:
// the escalation decision for the outcome is applied. The request counter
// and last-request stamp moved earlier, at dispatch (ApplyDispatch).
// Stores call this inside their atomic update section; callers elsewhere
// must not.
func ApplyOutcome(a *Account, outcome rotor.Outcome, p escalate.Policy, now time.Time) escalate.Decision {
	d := p.Apply(a.ConsecutiveFailures, outcome, now)

	a.ConsecutiveFailures = d.Failures
	if d.ClearWindows {
		a.CooldownUntil = nil
		a.BlockedUntil = nil
	}
	if d.CooldownUntil != nil {
		a.CooldownUntil = d.CooldownUntil
	}
	if d.BlockedUntil != nil {
		a.BlockedUntil = d.BlockedUntil
	}
	a.Touch()
	return d
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Package escalate implements the per-account failure escalation policy:
// the state machine that turns execution outcomes into cooldowns and
// blocks. It is pure decision logic; the account ledger applies the
// resulting writes.
package escalate

import (
	"time"

	"github.com/xraph/rotor"
)

// State is the escalation state of an account, derived from its window
// fields rather than stored.
type State string

const (
	// StateNormal means the account has no active cooldown or block.
	StateNormal State = "normal"
	// StateCooldown means the account trips its consecutive-failure
	// threshold and rests until the window passes.
	StateCooldown State = "cooldown"
	// StateBlocked means the account was rate-limited or failed
	// authentication and is excluded for a longer window.
	StateBlocked State = "blocked"
)

// Decision is the write the ledger must apply to an account after an
// attempt. Failures is the new consecutive-failure count. A nil window
// pointer leaves the existing window untouched; ClearWindows wipes both.
type Decision struct {
	Failures      int
	ClearWindows  bool
	CooldownUntil *time.Time
	BlockedUntil  *time.Time
}

// State reports which escalation state the decision puts the account in.
func (d Decision) State() State {
	switch {
	case d.BlockedUntil != nil:
		return StateBlocked
	case d.CooldownUntil != nil:
		return StateCooldown
	default:
		return StateNormal
	}
}

// Policy holds the escalation thresholds. The zero value is not usable;
// construct with Default and override fields as needed.
type Policy struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// cooldown.
	FailureThreshold int

	// Cooldown is how long a tripped account rests.
	Cooldown time.Duration

	// RateLimitStep scales the block window per consecutive failure when
	// the failure class is rate_limit.
	RateLimitStep time.Duration

	// RateLimitCap bounds the escalating rate-limit block.
	RateLimitCap time.Duration

	// AuthBlock is the flat block applied on authentication failures.
	AuthBlock time.Duration
}

// Default returns the standard policy: cooldown after 5 consecutive
// failures for 1h; rate-limit blocks escalate 60m per consecutive failure
// capped at 8h; authentication blocks are a flat 2h.
func Default() Policy {
	return Policy{
		FailureThreshold: 5,
		Cooldown:         time.Hour,
		RateLimitStep:    60 * time.Minute,
		RateLimitCap:     8 * time.Hour,
		AuthBlock:        120 * time.Minute,
	}
}

// Apply decides the account write for one attempt. consecutiveFailures is
// the count before this attempt. Success returns to Normal and clears any
// active windows. Rate-limit and authentication failures block from any
// state; other failures trip a cooldown once the threshold is reached.
func (p Policy) Apply(consecutiveFailures int, outcome rotor.Outcome, now time.Time) Decision {
	if outcome.Success {
		return Decision{Failures: 0, ClearWindows: true}
	}

	failures := consecutiveFailures + 1

	switch outcome.Class {
	case rotor.ClassRateLimit:
		window := time.Duration(failures) * p.RateLimitStep
		if window > p.RateLimitCap {
			window = p.RateLimitCap
		}
		until := now.Add(window)
		return Decision{Failures: failures, BlockedUntil: &until}

	case rotor.ClassAuthentication:
		until := now.Add(p.AuthBlock)
		return Decision{Failures: failures, BlockedUntil: &until}

	default:
		if failures >= p.FailureThreshold {
			until := now.Add(p.Cooldown)
			return Decision{Failures: failures, CooldownUntil: &until}
		}
		return Decision{Failures: failures}
	}
}

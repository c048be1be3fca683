package rotor

import (
	"errors"
	"fmt"
	"time"
)

// Class buckets execution failures by how the scheduler should react.
type Class string

const (
	// ClassRateLimit means the external service throttled the account.
	// The account is blocked with escalating duration; the entry retries.
	ClassRateLimit Class = "rate_limit"
	// ClassAuthentication means the account's credential was rejected.
	// The account is blocked flat; the entry retries on another account.
	ClassAuthentication Class = "authentication"
	// ClassTransient means a retryable execution fault (network, timeout,
	// panic). The entry retries within its budget.
	ClassTransient Class = "transient"
	// ClassPermanent means the work item itself cannot succeed (malformed
	// input). The entry fails terminally without retry.
	ClassPermanent Class = "permanent"
)

// RateLimitError reports that the external service throttled the account.
// RetryAfter carries the service's hint when one was given; zero means
// unknown.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rotor: rate limited, retry after %s", e.RetryAfter)
	}
	return "rotor: rate limited"
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// AuthenticationError reports that the account's session credential was
// rejected by the external service.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Reason != "" {
		return "rotor: authentication failed: " + e.Reason
	}
	return "rotor: authentication failed"
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransientError reports a retryable execution fault.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return "rotor: transient failure: " + e.Err.Error()
	}
	return "rotor: transient failure"
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError reports that a work item can never succeed and must not
// be retried.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Reason != "" {
		return "rotor: permanent failure: " + e.Reason
	}
	return "rotor: permanent failure"
}

func (e *PermanentError) Unwrap() error { return e.Err }

// WaitError reports that no account is eligible right now but one becomes
// eligible within the selection horizon. It matches ErrNoEligibleAccount
// under errors.Is.
type WaitError struct {
	RetryAfter time.Duration
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("rotor: no eligible account, retry after %s", e.RetryAfter)
}

func (e *WaitError) Is(target error) bool { return target == ErrNoEligibleAccount }

// Classify maps an execution error to its failure class. Unrecognized
// errors (including recovered panics wrapped in plain errors) are
// transient: retry is the safe default for an uncontrolled runtime.
func Classify(err error) Class {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ClassRateLimit
	}
	var auth *AuthenticationError
	if errors.As(err, &auth) {
		return ClassAuthentication
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}
	return ClassTransient
}

// Outcome is the result of one execution attempt as seen by the ledger,
// the escalation policy, and the queue.
type Outcome struct {
	Success bool
	Class   Class
	Latency time.Duration
}

// SuccessOutcome builds the outcome for a successful attempt.
func SuccessOutcome(latency time.Duration) Outcome {
	return Outcome{Success: true, Latency: latency}
}

// FailureOutcome builds the outcome for a failed attempt.
func FailureOutcome(class Class, latency time.Duration) Outcome {
	return Outcome{Success: false, Class: class, Latency: latency}
}

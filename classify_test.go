package rotor

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"rate limit", &RateLimitError{RetryAfter: time.Minute}, ClassRateLimit},
		{"wrapped rate limit", fmt.Errorf("run: %w", &RateLimitError{}), ClassRateLimit},
		{"authentication", &AuthenticationError{Reason: "session expired"}, ClassAuthentication},
		{"permanent", &PermanentError{Reason: "malformed url"}, ClassPermanent},
		{"transient", &TransientError{Err: errors.New("connection reset")}, ClassTransient},
		{"unknown error", errors.New("something else"), ClassTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestWaitErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("select: %w", &WaitError{RetryAfter: 10 * time.Minute})

	if !errors.Is(err, ErrNoEligibleAccount) {
		t.Fatal("WaitError should match ErrNoEligibleAccount under errors.Is")
	}

	var wait *WaitError
	if !errors.As(err, &wait) {
		t.Fatal("errors.As should unwrap WaitError")
	}
	if wait.RetryAfter != 10*time.Minute {
		t.Fatalf("RetryAfter = %s, want 10m", wait.RetryAfter)
	}
}

func TestOutcomeConstructors(t *testing.T) {
	ok := SuccessOutcome(250 * time.Millisecond)
	if !ok.Success || ok.Class != "" || ok.Latency != 250*time.Millisecond {
		t.Fatalf("unexpected success outcome: %+v", ok)
	}

	fail := FailureOutcome(ClassRateLimit, time.Second)
	if fail.Success || fail.Class != ClassRateLimit {
		t.Fatalf("unexpected failure outcome: %+v", fail)
	}
}

// Package backoff provides retry delay strategies for requeued entries.
// A strategy decides how long a failed entry stays invisible to the
// scheduler before it may be claimed again.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure. Strategies are
// stateless and safe for concurrent use.
type Strategy func(attempt int) time.Duration

// Constant always returns the same delay regardless of attempt number.
func Constant(interval time.Duration) Strategy {
	return func(int) time.Duration { return interval }
}

// Linear grows the delay linearly: min(initial * attempt, max).
func Linear(initial, max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		d := initial * time.Duration(attempt)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Exponential doubles the delay each attempt: min(initial * 2^(n-1), max).
func Exponential(initial, max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// FullJitter spreads an exponential base over [0, base) so that a burst of
// entries failing together does not come back as a burst.
func FullJitter(initial, max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		base := float64(initial) * math.Pow(2, float64(attempt-1))
		if max > 0 && base > float64(max) {
			base = float64(max)
		}
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
}

// Default is the spacing used for requeued entries when the engine is not
// configured otherwise. Scraping targets punish tight retry loops, so the
// base is coarse: full jitter over 30s doubling up to 10m.
func Default() Strategy {
	return FullJitter(30*time.Second, 10*time.Minute)
}

package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/rotor"
)

// Strategy names the account selection algorithm. The strategy is chosen
// once at job creation and stored on the job; it is not re-dispatched by
// string comparison on every tick.
type Strategy string

const (
	// StrategyRoundRobin rotates a per-tenant index across the eligible set.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastUsed picks the eligible account with the fewest
	// requests today.
	StrategyLeastUsed Strategy = "least_used"
	// StrategyHealth picks the eligible account with the best health score.
	StrategyHealth Strategy = "health"
	// StrategyBalanced picks by weighted composite of health, remaining
	// daily budget, and time since last use. The default.
	StrategyBalanced Strategy = "balanced"
)

// DefaultStrategy is used when a job does not name one.
const DefaultStrategy = StrategyBalanced

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyHealth, StrategyBalanced:
		return true
	}
	return false
}

// Selector picks the next account for a tenant and job type. Selection
// never mutates account state; the caller records the attempt when the
// execution is actually dispatched.
type Selector struct {
	store   Store
	horizon time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cursors map[string]int
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithHorizon bounds how far ahead the wait-hint scan looks. Accounts
// that become eligible later than this yield ErrNoEligibleAccount rather
// than a wait hint.
func WithHorizon(d time.Duration) SelectorOption {
	return func(s *Selector) { s.horizon = d }
}

// WithSelectorClock injects the time source.
func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(s *Selector) { s.now = now }
}

// NewSelector creates a Selector over the given account store with a
// 1 hour wait-hint horizon.
func NewSelector(store Store, opts ...SelectorOption) *Selector {
	s := &Selector{
		store:   store,
		horizon: time.Hour,
		now:     time.Now,
		cursors: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the single best eligible account for the tenant and job
// type under the given strategy. With no eligible account it returns a
// *rotor.WaitError carrying the earliest retry time when one exists
// within the horizon, and rotor.ErrNoEligibleAccount otherwise.
func (s *Selector) Select(ctx context.Context, tenantID string, jobType JobType, strategy Strategy) (*Account, error) {
	accts, err := s.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	now := s.now()

	eligible := accts[:0:0]
	for _, a := range accts {
		if a.Eligible(jobType, now) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return nil, s.waitHint(accts, jobType, now)
	}

	// K-sortable IDs make this creation order, which keeps every
	// strategy deterministic under ties.
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].ID.String() < eligible[j].ID.String()
	})

	switch strategy {
	case StrategyRoundRobin:
		return s.nextRoundRobin(tenantID, eligible), nil
	case StrategyLeastUsed:
		return pickLeastUsed(eligible, now), nil
	case StrategyHealth:
		return pickHealthiest(eligible, now), nil
	default:
		return pickBalanced(eligible, jobType, now), nil
	}
}

func (s *Selector) nextRoundRobin(tenantID string, eligible []*Account) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.cursors[tenantID] % len(eligible)
	s.cursors[tenantID] = idx + 1
	return eligible[idx]
}

func pickLeastUsed(eligible []*Account, now time.Time) *Account {
	best := eligible[0]
	for _, a := range eligible[1:] {
		if a.UsedToday(now) < best.UsedToday(now) {
			best = a
		}
	}
	return best
}

func pickHealthiest(eligible []*Account, now time.Time) *Account {
	best := eligible[0]
	for _, a := range eligible[1:] {
		if a.HealthScore(now) > best.HealthScore(now) {
			best = a
		}
	}
	return best
}

func pickBalanced(eligible []*Account, jobType JobType, now time.Time) *Account {
	best := eligible[0]
	bestScore := balancedScore(best, jobType, now)
	for _, a := range eligible[1:] {
		if score := balancedScore(a, jobType, now); score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

// balancedScore weights health 0.4, remaining daily budget 0.3, and
// rotation recency 0.3. Accounts unused for 24h or more take the full
// rotation term, so rotation is enforced even under the composite.
func balancedScore(a *Account, jobType JobType, now time.Time) float64 {
	health := a.HealthScore(now)

	usage := 0.0
	if limit := EffectiveLimit(a.DailyLimit, jobType); limit > 0 {
		usage = 1 - float64(a.UsedToday(now))/float64(limit)
	}

	rotation := 1.0
	if a.LastRequestAt != nil {
		rotation = now.Sub(*a.LastRequestAt).Hours() / 24
		if rotation > 1 {
			rotation = 1
		}
	}

	return 0.4*health + 0.3*usage + 0.3*rotation
}

// waitHint scans all tenant accounts, eligible or not, for the earliest
// moment one clears its time-bound constraints. Inactive and unvalidated
// accounts need human intervention and contribute no hint.
func (s *Selector) waitHint(accts []*Account, jobType JobType, now time.Time) error {
	var best time.Duration
	found := false

	for _, a := range accts {
		if !a.Active || a.ValidationState != ValidationActive {
			continue
		}
		ready := now
		if a.BlockedUntil != nil && a.BlockedUntil.After(ready) {
			ready = *a.BlockedUntil
		}
		if a.CooldownUntil != nil && a.CooldownUntil.After(ready) {
			ready = *a.CooldownUntil
		}
		if a.LastRequestAt != nil {
			if next := a.LastRequestAt.Add(a.MinDelay); next.After(ready) {
				ready = next
			}
		}
		if a.UsedToday(now) >= EffectiveLimit(a.DailyLimit, jobType) {
			if midnight := nextUTCMidnight(now); midnight.After(ready) {
				ready = midnight
			}
		}
		if !ready.After(now) {
			continue
		}
		if wait := ready.Sub(now); !found || wait < best {
			best, found = wait, true
		}
	}

	if found && best <= s.horizon {
		return &rotor.WaitError{RetryAfter: best}
	}
	return rotor.ErrNoEligibleAccount
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

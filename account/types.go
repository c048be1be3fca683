package account

import "math"

// JobType classifies work by how heavily it loads an account. Heavier
// types consume the daily budget faster via the type factor.
type JobType string

const (
	// TypeProfile is a single profile visit. Baseline weight.
	TypeProfile JobType = "profile"
	// TypeCompany is a company page visit.
	TypeCompany JobType = "company"
	// TypeSearch is a search-results crawl, heavier per item.
	TypeSearch JobType = "search"
	// TypeMessaging sends outreach and is throttled hardest.
	TypeMessaging JobType = "messaging"
)

// Factor returns the daily-limit scaling factor for the job type.
// Unknown types get the baseline factor.
func (t JobType) Factor() float64 {
	switch t {
	case TypeCompany:
		return 0.8
	case TypeSearch:
		return 0.6
	case TypeMessaging:
		return 0.3
	default:
		return 1.0
	}
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case TypeProfile, TypeCompany, TypeSearch, TypeMessaging:
		return true
	}
	return false
}

// EffectiveLimit scales an account's base daily limit for a job type:
// floor(base × factor). Applied before eligibility filtering.
func EffectiveLimit(base int, t JobType) int {
	return int(math.Floor(float64(base) * t.Factor()))
}

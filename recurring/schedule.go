// Package recurring fires jobs on cron schedules. Schedules live in the
// store; the cluster leader evaluates due ones each tick, takes a
// per-schedule lock, and submits a fresh job through the engine, so a
// schedule fires at most once per due time across all instances.
package recurring

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// cronParser accepts standard 5-field expressions and descriptors like
// "@every 6h" or "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Schedule is one recurring job definition: the same work items
// resubmitted on a cron cadence under a tenant's account pool.
type Schedule struct {
	rotor.Entity

	ID       id.RecurringID `json:"id"`
	Name     string         `json:"name"`
	TenantID string         `json:"tenant_id"`

	// Expr is the cron expression, e.g. "0 6 * * *" or "@every 12h".
	Expr string `json:"expr"`

	JobName string          `json:"job_name"`
	JobType account.JobType `json:"job_type"`

	// Items are the work item payloads submitted on every firing.
	Items []string `json:"items"`

	Strategy   account.Strategy `json:"strategy"`
	Priority   int              `json:"priority"`
	MaxRetries int              `json:"max_retries"`
	Enabled    bool             `json:"enabled"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// LockedBy and LockedUntil are the distributed firing lock, managed
	// by the scheduler.
	LockedBy    id.WorkerID `json:"locked_by,omitempty"`
	LockedUntil *time.Time  `json:"locked_until,omitempty"`
}

// ScheduleOption configures a new Schedule.
type ScheduleOption func(*Schedule)

// WithStrategy sets the account selection strategy for fired jobs.
func WithStrategy(s account.Strategy) ScheduleOption {
	return func(sc *Schedule) { sc.Strategy = s }
}

// WithPriority sets the priority of fired jobs. Lower claims first.
func WithPriority(p int) ScheduleOption {
	return func(sc *Schedule) { sc.Priority = p }
}

// WithMaxRetries sets the per-entry retry budget of fired jobs.
func WithMaxRetries(n int) ScheduleOption {
	return func(sc *Schedule) { sc.MaxRetries = n }
}

// Disabled creates the schedule switched off; it holds its place but
// never fires until enabled.
func Disabled() ScheduleOption {
	return func(sc *Schedule) { sc.Enabled = false }
}

// New builds a Schedule, validating the cron expression and computing
// the first due time.
func New(name, tenantID, expr, jobName string, jobType account.JobType, items []string, opts ...ScheduleOption) (*Schedule, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, rotor.ErrNoWorkItems
	}
	if !jobType.Valid() {
		return nil, rotor.ErrUnknownJobType
	}

	sc := &Schedule{
		Entity:     rotor.NewEntity(),
		ID:         id.NewRecurringID(),
		Name:       name,
		TenantID:   tenantID,
		Expr:       expr,
		JobName:    jobName,
		JobType:    jobType,
		Items:      items,
		Strategy:   account.DefaultStrategy,
		MaxRetries: 3,
		Enabled:    true,
	}
	for _, opt := range opts {
		opt(sc)
	}
	if !sc.Strategy.Valid() {
		return nil, rotor.ErrUnknownStrategy
	}

	next := sched.Next(time.Now().UTC())
	sc.NextRunAt = &next
	return sc, nil
}

// Due reports whether the schedule should fire now.
func (sc *Schedule) Due(now time.Time) bool {
	return sc.Enabled && sc.NextRunAt != nil && !sc.NextRunAt.After(now)
}

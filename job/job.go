// Package job defines the Job aggregate: a tenant-requested unit of work
// decomposed into queue entries, with monotonic status transitions and
// outcome counters.
package job

import (
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means no entry has been claimed yet.
	StatusPending Status = "pending"
	// StatusRunning means at least one entry was claimed.
	StatusRunning Status = "running"
	// StatusPaused is the explicit side-state: entries stay queued but
	// are excluded from claiming until resumed.
	StatusPaused Status = "paused"
	// StatusCompleted means all entries are terminal with at least one
	// success.
	StatusCompleted Status = "completed"
	// StatusFailed means all entries are terminal with zero successes.
	StatusFailed Status = "failed"
	// StatusCanceled means the job was withdrawn before finishing.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// transitions is the closed set of legal status moves. Status is
// monotonic: pending → running → terminal, with paused as the only
// re-enterable side-state.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusPaused, StatusCanceled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusPaused, StatusCanceled},
	StatusPaused:  {StatusPending, StatusRunning, StatusCanceled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Job is a unit of work requested by a tenant, decomposed into one or
// more queue entries.
type Job struct {
	rotor.Entity

	ID       id.JobID        `json:"id"`
	TenantID string          `json:"tenant_id"`
	Name     string          `json:"name"`
	Type     account.JobType `json:"type"`
	Status   Status          `json:"status"`

	// Items are the raw work item payloads (one queue entry each).
	Items []string `json:"items"`

	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`

	Strategy   account.Strategy `json:"strategy"`
	MaxRetries int              `json:"max_retries"`
	Priority   int              `json:"priority"`

	// CreditCost is the amount reserved at creation. Reservation is the
	// deduction; refunds are a configurable engine policy.
	CreditCost int `json:"credit_cost"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Option configures a new Job.
type Option func(*Job)

// WithStrategy sets the account selection strategy.
func WithStrategy(s account.Strategy) Option {
	return func(j *Job) { j.Strategy = s }
}

// WithMaxRetries sets the per-entry retry budget.
func WithMaxRetries(n int) Option {
	return func(j *Job) { j.MaxRetries = n }
}

// WithPriority sets the job priority. Lower value claims first.
func WithPriority(p int) Option {
	return func(j *Job) { j.Priority = p }
}

// WithCreditCost overrides the default one-credit-per-item cost.
func WithCreditCost(c int) Option {
	return func(j *Job) { j.CreditCost = c }
}

// New builds a pending Job for the given tenant and work items.
func New(tenantID, name string, jobType account.JobType, items []string, opts ...Option) (*Job, error) {
	if len(items) == 0 {
		return nil, rotor.ErrNoWorkItems
	}
	if !jobType.Valid() {
		return nil, rotor.ErrUnknownJobType
	}

	j := &Job{
		Entity:     rotor.NewEntity(),
		ID:         id.NewJobID(),
		TenantID:   tenantID,
		Name:       name,
		Type:       jobType,
		Status:     StatusPending,
		Items:      items,
		Total:      len(items),
		Strategy:   account.DefaultStrategy,
		MaxRetries: 3,
		CreditCost: len(items),
	}
	for _, opt := range opts {
		opt(j)
	}

	if !j.Strategy.Valid() {
		return nil, rotor.ErrUnknownStrategy
	}
	return j, nil
}

// MarkRunning transitions pending → running and stamps StartedAt. It is
// a no-op when the job already runs, so repeated claims are cheap.
func (j *Job) MarkRunning(now time.Time) error {
	if j.Status == StatusRunning {
		return nil
	}
	if !CanTransition(j.Status, StatusRunning) {
		return rotor.ErrInvalidState
	}
	j.Status = StatusRunning
	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	j.Touch()
	return nil
}

// ApplyEntryOutcome counts one terminal entry outcome and finalizes the
// job once every entry is terminal: completed with at least one success,
// failed with zero. Stores call this inside their atomic update section.
// A job already terminal (e.g. canceled) keeps its status; only the
// counters move.
func ApplyEntryOutcome(j *Job, success bool, now time.Time) {
	j.Processed++
	if success {
		j.Successful++
	} else {
		j.Failed++
	}

	if !j.Status.Terminal() && j.Processed >= j.Total {
		if j.Successful > 0 {
			j.Status = StatusCompleted
		} else {
			j.Status = StatusFailed
		}
		t := now
		j.CompletedAt = &t
	}
	j.Touch()
}

// Pause moves the job into the paused side-state.
func (j *Job) Pause() error {
	if !CanTransition(j.Status, StatusPaused) {
		return rotor.ErrInvalidState
	}
	j.Status = StatusPaused
	j.Touch()
	return nil
}

// Resume leaves the paused side-state, back to running when execution
// had started and to pending otherwise.
func (j *Job) Resume() error {
	if j.Status != StatusPaused {
		return rotor.ErrJobNotPaused
	}
	if j.StartedAt != nil {
		j.Status = StatusRunning
	} else {
		j.Status = StatusPending
	}
	j.Touch()
	return nil
}

// Cancel withdraws a job that has not finished. In-flight entries still
// finalize and count, but the status stays canceled.
func (j *Job) Cancel(now time.Time) error {
	if !CanTransition(j.Status, StatusCanceled) {
		return rotor.ErrJobTerminal
	}
	j.Status = StatusCanceled
	t := now
	j.CompletedAt = &t
	j.Touch()
	return nil
}

// Package queue models the durable, ordered holding area for schedulable
// work: one Entry per work item, claimed atomically by the scheduler and
// finalized by the worker pool. It also provides the per-tenant dispatch
// throttle (Manager).
package queue

import (
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	// StatusQueued means the entry waits to be claimed.
	StatusQueued Status = "queued"
	// StatusAssigned means the scheduler claimed the entry for a worker.
	StatusAssigned Status = "assigned"
	// StatusProcessing means the worker pool is executing the entry.
	StatusProcessing Status = "processing"
	// StatusCompleted means the entry finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the entry exhausted its retries or hit a
	// permanent failure. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Entry is one schedulable, retryable piece of a job. The account binding
// stays empty until claim time: eligibility is re-resolved when the entry
// is claimed, so cooldowns that arise after enqueue are honored.
type Entry struct {
	rotor.Entity

	ID       id.EntryID      `json:"id"`
	JobID    id.JobID        `json:"job_id"`
	TenantID string          `json:"tenant_id"`
	JobType  account.JobType `json:"job_type"`

	// Payload is the raw work item (a URL, a profile handle).
	Payload string `json:"payload"`

	AccountID id.AccountID `json:"account_id,omitempty"`
	Status    Status       `json:"status"`

	// Priority orders claiming; lower value claims first. FIFO within a
	// priority.
	Priority int `json:"priority"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// NotBefore gates a requeued entry until its retry backoff elapses.
	NotBefore *time.Time `json:"not_before,omitempty"`

	// Held excludes the entry from claiming while its job is paused.
	Held bool `json:"held,omitempty"`

	WorkerID    id.WorkerID `json:"worker_id,omitempty"`
	AssignedAt  *time.Time  `json:"assigned_at,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// New builds a queued Entry for one work item.
func New(jobID id.JobID, tenantID string, jobType account.JobType, payload string, priority, maxRetries int) *Entry {
	return &Entry{
		Entity:     rotor.NewEntity(),
		ID:         id.NewEntryID(),
		JobID:      jobID,
		TenantID:   tenantID,
		JobType:    jobType,
		Payload:    payload,
		Status:     StatusQueued,
		Priority:   priority,
		MaxRetries: maxRetries,
	}
}

// Claimable reports whether the entry may be claimed right now.
func (e *Entry) Claimable(now time.Time) bool {
	if e.Status != StatusQueued || e.Held {
		return false
	}
	if e.NotBefore != nil && now.Before(*e.NotBefore) {
		return false
	}
	return true
}

// Assign stamps the claim: queued → assigned under the given worker.
// Stores call this inside their atomic claim section.
func (e *Entry) Assign(workerID id.WorkerID, now time.Time) {
	e.Status = StatusAssigned
	e.WorkerID = workerID
	t := now
	e.AssignedAt = &t
	e.Touch()
}

// Bind attaches the resolved account. Set at claim time by the scheduler.
func (e *Entry) Bind(accountID id.AccountID) {
	e.AccountID = accountID
	e.Touch()
}

// StartProcessing marks the handover to an execution unit.
func (e *Entry) StartProcessing(now time.Time) {
	e.Status = StatusProcessing
	t := now
	e.StartedAt = &t
	e.Touch()
}

// Release puts an assigned or processing entry back to queued without
// consuming retry budget. Used when no account is eligible, when the pool
// is saturated, and for orphan recovery.
func (e *Entry) Release(now time.Time) {
	e.Status = StatusQueued
	e.WorkerID = id.Nil
	e.AccountID = id.Nil
	e.AssignedAt = nil
	e.StartedAt = nil
	e.Touch()
}

// ApplyFinalize applies one execution outcome. Success and permanent
// failures are terminal; other failures requeue with the retry gate
// pushed out by delay while budget remains, then fail terminally.
// Returns true when the entry went back to queued. Stores call this
// inside their atomic finalize section, after the idempotence check on
// already-terminal entries.
func ApplyFinalize(e *Entry, outcome rotor.Outcome, reason string, delay time.Duration, now time.Time) (requeued bool) {
	if outcome.Success {
		e.Status = StatusCompleted
		t := now
		e.CompletedAt = &t
		e.LastError = ""
		e.Touch()
		return false
	}

	e.LastError = reason
	if outcome.Class != rotor.ClassPermanent && e.RetryCount < e.MaxRetries {
		e.RetryCount++
		e.Status = StatusQueued
		e.WorkerID = id.Nil
		e.AccountID = id.Nil
		e.AssignedAt = nil
		e.StartedAt = nil
		if delay > 0 {
			nb := now.Add(delay)
			e.NotBefore = &nb
		} else {
			e.NotBefore = nil
		}
		e.Touch()
		return true
	}

	e.Status = StatusFailed
	t := now
	e.CompletedAt = &t
	e.Touch()
	return false
}

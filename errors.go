package rotor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("rotor: no store configured")
	ErrNotWired        = errors.New("rotor: engine not built")
	ErrStoreClosed     = errors.New("rotor: store closed")
	ErrMigrationFailed = errors.New("rotor: migration failed")

	// Not found errors.
	ErrAccountNotFound   = errors.New("rotor: account not found")
	ErrJobNotFound       = errors.New("rotor: job not found")
	ErrEntryNotFound     = errors.New("rotor: queue entry not found")
	ErrWorkerNotFound    = errors.New("rotor: worker not found")
	ErrArchiveNotFound   = errors.New("rotor: archive entry not found")
	ErrRecurringNotFound = errors.New("rotor: recurring job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("rotor: job already exists")
	ErrClaimConflict    = errors.New("rotor: entry claimed concurrently")
	ErrAlreadyReplayed  = errors.New("rotor: archive entry already replayed")
	ErrRecurringExists  = errors.New("rotor: recurring schedule name already registered")

	// State errors.
	ErrInvalidState       = errors.New("rotor: invalid state transition")
	ErrJobNotPaused       = errors.New("rotor: job is not paused")
	ErrJobTerminal        = errors.New("rotor: job already finished")
	ErrMaxRetriesExceeded = errors.New("rotor: max retries exceeded")

	// Validation errors.
	ErrNoWorkItems     = errors.New("rotor: job has no work items")
	ErrUnknownJobType  = errors.New("rotor: unknown job type")
	ErrUnknownStrategy = errors.New("rotor: unknown selection strategy")

	// Scheduling errors.
	ErrNoEligibleAccount = errors.New("rotor: no eligible account")
	ErrPoolSaturated     = errors.New("rotor: worker pool at capacity")
	ErrPoolStopped       = errors.New("rotor: worker pool not running")
	ErrTenantThrottled   = errors.New("rotor: tenant dispatch throttled")

	// Credit errors.
	ErrInsufficientCredits = errors.New("rotor: insufficient credits")

	// Cluster errors.
	ErrLeadershipLost = errors.New("rotor: leadership lost")
	ErrNotLeader      = errors.New("rotor: not the leader")
)

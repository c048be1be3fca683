package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobFailed       = "job.failed"
	ActionJobPaused       = "job.paused"
	ActionJobResumed      = "job.resumed"
	ActionEntryAssigned   = "entry.assigned"
	ActionEntryCompleted  = "entry.completed"
	ActionEntryFailed     = "entry.failed"
	ActionEntryArchived   = "entry.archived"
	ActionAccountCooldown = "account.cooldown"
	ActionAccountBlocked  = "account.blocked"
	ActionRecurringFired  = "recurring.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob       = "rotor.job"
	CategoryEntry     = "rotor.entry"
	CategoryAccount   = "rotor.account"
	CategoryRecurring = "rotor.recurring"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob       = "job"
	ResourceEntry     = "queue_entry"
	ResourceAccount   = "account"
	ResourceRecurring = "recurring_schedule"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobPaused,
		ActionJobResumed,
		ActionEntryAssigned,
		ActionEntryCompleted,
		ActionEntryFailed,
		ActionEntryArchived,
		ActionAccountCooldown,
		ActionAccountBlocked,
		ActionRecurringFired,
	}
}

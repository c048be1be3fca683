// Package ext defines the extension system for Rotor.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnAccountBlocked(ctx context.Context, a *account.Account, until time.Time) error {
//	    log.Printf("account %s blocked until %s", a.ID, until)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job and its entries were persisted
//   - [JobStarted] — the first entry of the job was claimed
//   - [JobCompleted] — job finalized with at least one success
//   - [JobFailed] — job finalized with zero successes
//   - [JobPaused] — job entered the paused side-state
//   - [JobResumed] — job returned to scheduling
//
// # Entry Lifecycle Hooks
//
//   - [EntryAssigned] — entry claimed and bound to an account
//   - [EntryCompleted] — entry finished successfully
//   - [EntryFailed] — an execution attempt failed
//   - [EntryArchived] — a terminally failed entry was archived
//
// # Account Lifecycle Hooks
//
//   - [AccountCooldown] — consecutive failures triggered a cooldown
//   - [AccountBlocked] — a rate-limit or authentication failure blocked
//     the account
//
// # Other Hooks
//
//   - [RecurringFired] — a recurring schedule fired and submitted a job
//   - [Shutdown] — the rotor is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext

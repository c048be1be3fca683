// Package audithook is a Rotor extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every job, entry, account, and recurring lifecycle hook emits a
// structured audit event through the [Recorder] interface. The extension
// assigns appropriate severity levels (info for normal operations,
// warning for retries and cooldowns, critical for terminal failures and
// blocks) and rich metadata (job name, tenant, account, elapsed time,
// errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionAccountBlocked,
//	        audithook.ActionEntryArchived,
//	        audithook.ActionJobFailed,
//	    ),
//	)
package audithook

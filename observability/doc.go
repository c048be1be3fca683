// Package observability provides an OpenTelemetry-based metrics extension
// for Rotor. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, completion and failure, entry
// outcomes and archival, account cooldowns and blocks, and recurring
// schedule fires.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

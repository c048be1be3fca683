// Package rotor provides a job scheduling and account rotation engine for
// scraping and automation workloads. It decides which job runs next, which
// external account executes it, how many executions run concurrently, and
// how failures are absorbed (retry, cooldown, permanent block) without
// violating per-account rate limits or cross-tenant isolation.
//
// Rotor is designed as a library, not a service. Import it, configure a
// store and an execution runner, and submit jobs as ordinary Go values.
//
// # Quick Start
//
//	rt, err := rotor.New(
//	    rotor.WithStore(pgStore),
//	    rotor.WithConcurrency(5),
//	)
//
// # Architecture
//
// Rotor follows a composable store pattern where each subsystem (account,
// job, queue, cluster, archive, recurring, event) defines its own store
// interface. A single backend implements all of them. The engine package
// wires the subsystems together and exposes submission and administration
// operations.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers. Tenant identity is an opaque string owned
// by the host application.
package rotor

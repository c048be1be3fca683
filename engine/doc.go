// Package engine wires all Rotor subsystems together and provides the
// primary application-level API for registering runners and submitting
// jobs.
//
// The engine package exists to break a fundamental import cycle: the
// root rotor package defines Entity (imported by job, queue, account,
// etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	r, err := rotor.New(
//	    rotor.WithStore(pgStore),
//	    rotor.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(r,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithCreditService(credits),
//	    engine.WithTenantConfig(queue.TenantConfig{
//	        TenantID:  "tenant-a",
//	        RateLimit: 2,
//	        MaxActive: 3,
//	    }),
//	)
//
// # Registering Work
//
//	// Typed runners
//	engine.Register(eng, runner.NewDefinition(account.TypeProfile, scrapeProfile))
//
//	// Recurring schedules
//	eng.RegisterRecurring(ctx, "weekly-refresh", "tenant-a", "0 9 * * 1",
//	    "refresh", account.TypeProfile, profileURLs)
//
// # Submitting Jobs
//
//	j, err := eng.Submit(ctx, "tenant-a", "backfill", account.TypeProfile,
//	    profileURLs, job.WithPriority(1))
//
// # Operating
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	eng.PauseJob(ctx, j.ID)
//	eng.ResumeJob(ctx, j.ID)
//	eng.CancelJob(ctx, j.ID)
//	eng.QueueStatus(ctx)
//	eng.JobProgress(ctx, j.ID)
//	eng.ReplayArchived(ctx, recID)
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithEscalationPolicy] — override account escalation thresholds
//   - [WithTenantConfig] — configure per-tenant dispatch limits
//   - [WithCreditService] — enable credit accounting
//   - [WithRefundPolicy] — set the failed-item refund policy
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine

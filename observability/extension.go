package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/ext"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
)

// meterName is the instrumentation scope name for rotor lifecycle metrics.
const meterName = "github.com/xraph/rotor/observability"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.EntryCompleted  = (*MetricsExtension)(nil)
	_ ext.EntryFailed     = (*MetricsExtension)(nil)
	_ ext.EntryArchived   = (*MetricsExtension)(nil)
	_ ext.AccountCooldown = (*MetricsExtension)(nil)
	_ ext.AccountBlocked  = (*MetricsExtension)(nil)
	_ ext.RecurringFired  = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via the OTel
// metric API. Register it as a Rotor extension to automatically track
// enqueue rates, job completions and failures, per-item outcomes, account
// health transitions, and recurring fires.
//
// For per-execution duration histograms see middleware.Metrics(), which
// observes individual runner invocations rather than lifecycle events.
type MetricsExtension struct {
	jobsEnqueued     metric.Int64Counter
	jobsCompleted    metric.Int64Counter
	jobsFailed       metric.Int64Counter
	jobDuration      metric.Float64Histogram
	entriesCompleted metric.Int64Counter
	entriesFailed    metric.Int64Counter
	entriesArchived  metric.Int64Counter
	accountCooldowns metric.Int64Counter
	accountBlocks    metric.Int64Counter
	recurringFires   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If no MeterProvider is configured, noop instruments are
// used and the extension becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// Instrument creation errors are discarded: the OTel API returns noop
	// instruments on error, so a misconfigured provider degrades to a
	// no-op extension.
	m := &MetricsExtension{}
	m.jobsEnqueued, _ = meter.Int64Counter(
		"rotor.jobs.enqueued",
		metric.WithDescription("Total number of jobs enqueued"),
		metric.WithUnit("{job}"),
	)
	m.jobsCompleted, _ = meter.Int64Counter(
		"rotor.jobs.completed",
		metric.WithDescription("Total number of jobs completed with at least one success"),
		metric.WithUnit("{job}"),
	)
	m.jobsFailed, _ = meter.Int64Counter(
		"rotor.jobs.failed",
		metric.WithDescription("Total number of jobs that finished with zero successes"),
		metric.WithUnit("{job}"),
	)
	m.jobDuration, _ = meter.Float64Histogram(
		"rotor.job.duration",
		metric.WithDescription("Wall-clock time from first claim to job completion in seconds"),
		metric.WithUnit("s"),
	)
	m.entriesCompleted, _ = meter.Int64Counter(
		"rotor.entries.completed",
		metric.WithDescription("Total number of work items completed successfully"),
		metric.WithUnit("{entry}"),
	)
	m.entriesFailed, _ = meter.Int64Counter(
		"rotor.entries.failed",
		metric.WithDescription("Total number of failed work item executions"),
		metric.WithUnit("{entry}"),
	)
	m.entriesArchived, _ = meter.Int64Counter(
		"rotor.entries.archived",
		metric.WithDescription("Total number of terminally failed work items archived"),
		metric.WithUnit("{entry}"),
	)
	m.accountCooldowns, _ = meter.Int64Counter(
		"rotor.accounts.cooldowns",
		metric.WithDescription("Total number of account cooldown transitions"),
		metric.WithUnit("{event}"),
	)
	m.accountBlocks, _ = meter.Int64Counter(
		"rotor.accounts.blocks",
		metric.WithDescription("Total number of account block transitions"),
		metric.WithUnit("{event}"),
	)
	m.recurringFires, _ = meter.Int64Counter(
		"rotor.recurring.fired",
		metric.WithDescription("Total number of recurring schedule fires"),
		metric.WithUnit("{fire}"),
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", string(j.Type)),
		attribute.String("tenant_id", j.TenantID),
	)
}

func entryAttrs(e *queue.Entry) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", string(e.JobType)),
		attribute.String("tenant_id", e.TenantID),
	)
}

func accountAttrs(a *account.Account) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tenant_id", a.TenantID),
		attribute.String("account_id", a.ID.String()),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobsEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobsCompleted.Add(ctx, 1, jobAttrs(j))
	m.jobDuration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job) error {
	m.jobsFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Entry lifecycle hooks ───────────────────────────

// OnEntryCompleted implements ext.EntryCompleted.
func (m *MetricsExtension) OnEntryCompleted(ctx context.Context, e *queue.Entry, _ time.Duration) error {
	m.entriesCompleted.Add(ctx, 1, entryAttrs(e))
	return nil
}

// OnEntryFailed implements ext.EntryFailed.
func (m *MetricsExtension) OnEntryFailed(ctx context.Context, e *queue.Entry, willRetry bool, _ error) error {
	m.entriesFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", string(e.JobType)),
		attribute.String("tenant_id", e.TenantID),
		attribute.Bool("retry", willRetry),
	))
	return nil
}

// OnEntryArchived implements ext.EntryArchived.
func (m *MetricsExtension) OnEntryArchived(ctx context.Context, e *queue.Entry, _ string) error {
	m.entriesArchived.Add(ctx, 1, entryAttrs(e))
	return nil
}

// ── Account lifecycle hooks ─────────────────────────

// OnAccountCooldown implements ext.AccountCooldown.
func (m *MetricsExtension) OnAccountCooldown(ctx context.Context, a *account.Account, _ time.Time) error {
	m.accountCooldowns.Add(ctx, 1, accountAttrs(a))
	return nil
}

// OnAccountBlocked implements ext.AccountBlocked.
func (m *MetricsExtension) OnAccountBlocked(ctx context.Context, a *account.Account, _ time.Time) error {
	m.accountBlocks.Add(ctx, 1, accountAttrs(a))
	return nil
}

// ── Other lifecycle hooks ───────────────────────────

// OnRecurringFired implements ext.RecurringFired.
func (m *MetricsExtension) OnRecurringFired(ctx context.Context, scheduleName string, _ id.JobID) error {
	m.recurringFires.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schedule", scheduleName),
	))
	return nil
}

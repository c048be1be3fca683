package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/rotor/queue"
)

// tracerName is the instrumentation scope name for rotor tracing.
const tracerName = "github.com/xraph/rotor"

// Tracing returns middleware that wraps entry execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: rotor.entry.id, rotor.job.id, rotor.job_type,
// rotor.tenant_id, rotor.account.id, rotor.retry_count.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *queue.Entry, next Handler) error {
		ctx, span := tracer.Start(ctx, "rotor.entry.execute",
			trace.WithAttributes(
				attribute.String("rotor.entry.id", e.ID.String()),
				attribute.String("rotor.job.id", e.JobID.String()),
				attribute.String("rotor.job_type", string(e.JobType)),
				attribute.String("rotor.tenant_id", e.TenantID),
				attribute.String("rotor.account.id", e.AccountID.String()),
				attribute.Int("rotor.retry_count", e.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

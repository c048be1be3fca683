package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/rotor/queue"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace. The
// resulting error carries no failure class, so it lands in the transient
// bucket and the entry retries.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *queue.Entry, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("entry handler panicked",
					slog.String("entry_id", e.ID.String()),
					slog.String("job_id", e.JobID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic executing entry %s: %v", e.ID, r)
			}
		}()
		return next(ctx)
	}
}

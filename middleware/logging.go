package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/rotor/queue"
)

// Logging returns middleware that logs entry start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *queue.Entry, next Handler) error {
		logger.Info("entry started",
			slog.String("entry_id", e.ID.String()),
			slog.String("job_id", e.JobID.String()),
			slog.String("tenant_id", e.TenantID),
			slog.String("job_type", string(e.JobType)),
			slog.String("account_id", e.AccountID.String()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("entry failed",
				slog.String("entry_id", e.ID.String()),
				slog.String("job_id", e.JobID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("entry completed",
				slog.String("entry_id", e.ID.String()),
				slog.String("job_id", e.JobID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}

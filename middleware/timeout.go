package middleware

import (
	"context"
	"time"

	"github.com/xraph/rotor/queue"
)

// Timeout returns middleware that enforces an execution deadline. When d
// is positive, a context.WithTimeout wraps the handler call; when the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *queue.Entry, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}

package middleware

import (
	"context"

	"github.com/xraph/rotor/queue"
)

type tenantKey struct{}

// Tenant returns middleware that restores the owning tenant from the
// entry into the context, so handlers and anything they call see the
// same tenancy as the original submit caller.
func Tenant() Middleware {
	return func(ctx context.Context, e *queue.Entry, next Handler) error {
		if e.TenantID != "" {
			ctx = context.WithValue(ctx, tenantKey{}, e.TenantID)
		}
		return next(ctx)
	}
}

// TenantFrom extracts the tenant ID injected by [Tenant].
// Returns false when none is set.
func TenantFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok
}

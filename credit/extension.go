package credit

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/rotor/ext"
	"github.com/xraph/rotor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*RefundExtension)(nil)
	_ ext.JobCompleted = (*RefundExtension)(nil)
	_ ext.JobFailed    = (*RefundExtension)(nil)
)

// RefundExtension settles credits when jobs finish: under
// RefundFailedItems, the per-item share of the reservation comes back
// for every item that ended failed. Refunds are best-effort; a billing
// backend outage must not fail the job settlement that triggered it.
type RefundExtension struct {
	service Service
	policy  RefundPolicy
	logger  *slog.Logger
}

// NewRefundExtension creates a RefundExtension applying the given policy
// through the service.
func NewRefundExtension(service Service, policy RefundPolicy, logger *slog.Logger) *RefundExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundExtension{
		service: service,
		policy:  policy,
		logger:  logger,
	}
}

// Name implements ext.Extension.
func (r *RefundExtension) Name() string { return "credit-refund" }

// OnJobCompleted implements ext.JobCompleted. A completed job can still
// carry failed items; those are what the policy refunds.
func (r *RefundExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	r.settle(ctx, j)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (r *RefundExtension) OnJobFailed(ctx context.Context, j *job.Job) error {
	r.settle(ctx, j)
	return nil
}

func (r *RefundExtension) settle(ctx context.Context, j *job.Job) {
	amount := r.policy.Refund(j.CreditCost, j.Total, j.Failed)
	if amount <= 0 {
		return
	}
	if err := r.service.Refund(ctx, j.TenantID, amount); err != nil {
		r.logger.Warn("credit refund failed",
			"job_id", j.ID.String(),
			"tenant_id", j.TenantID,
			"amount", amount,
			"error", err)
		return
	}
	r.logger.Info("credits refunded",
		"job_id", j.ID.String(),
		"tenant_id", j.TenantID,
		"amount", amount,
		"failed_items", j.Failed)
}

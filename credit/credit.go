// Package credit meters job submission against per-tenant balances.
// Reservation happens at submission and is the deduction; whether any
// portion comes back on failure is a policy choice.
package credit

import (
	"context"
	"sync"

	"github.com/xraph/rotor"
)

// Service is the billing boundary. Implementations back it with the
// tenant billing system; the in-memory implementation below serves
// tests and single-process deployments.
type Service interface {
	// Reserve deducts amount from the tenant's balance. Returns
	// rotor.ErrInsufficientCredits when the balance cannot cover it.
	Reserve(ctx context.Context, tenantID string, amount int) error

	// Refund returns amount to the tenant's balance.
	Refund(ctx context.Context, tenantID string, amount int) error

	// Balance reports the tenant's current balance.
	Balance(ctx context.Context, tenantID string) (int, error)
}

// RefundPolicy decides what comes back when a job reaches a terminal
// state.
type RefundPolicy string

const (
	// RefundNone keeps the full reservation regardless of outcome.
	// This is the default: scheduling work costs credits whether or
	// not the upstream site cooperates.
	RefundNone RefundPolicy = "none"

	// RefundFailedItems refunds the per-item share of the reservation
	// for each item that ended failed.
	RefundFailedItems RefundPolicy = "failed_items"
)

// Refund computes the amount owed back for a finished job under the
// policy. The per-item share is the integer quotient of the reserved
// cost, so odd remainders stay spent.
func (p RefundPolicy) Refund(creditCost, total, failed int) int {
	if p != RefundFailedItems || total <= 0 || failed <= 0 {
		return 0
	}
	return (creditCost / total) * failed
}

// MemoryService is a mutex-guarded in-process Service.
type MemoryService struct {
	mu       sync.Mutex
	balances map[string]int
}

// NewMemoryService creates an empty in-memory credit service.
func NewMemoryService() *MemoryService {
	return &MemoryService{balances: make(map[string]int)}
}

// Grant adds amount to the tenant's balance.
func (s *MemoryService) Grant(tenantID string, amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[tenantID] += amount
}

// Reserve deducts amount, failing without side effects when the
// balance is short.
func (s *MemoryService) Reserve(_ context.Context, tenantID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[tenantID] < amount {
		return rotor.ErrInsufficientCredits
	}
	s.balances[tenantID] -= amount
	return nil
}

// Refund returns amount to the tenant's balance.
func (s *MemoryService) Refund(_ context.Context, tenantID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[tenantID] += amount
	return nil
}

// Balance reports the tenant's current balance.
func (s *MemoryService) Balance(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[tenantID], nil
}

var _ Service = (*MemoryService)(nil)

package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantConfig defines dispatch limits for one tenant. These throttle how
// fast entries leave the queue, on top of per-account eligibility.
type TenantConfig struct {
	// TenantID is the tenant this config applies to.
	TenantID string

	// RateLimit is the maximum sustained dispatches per second for the
	// tenant. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxActive limits the tenant's simultaneous in-flight entries.
	// Zero means no tenant-specific limit (the global pool ceiling
	// still applies).
	MaxActive int
}

// tenantState tracks runtime dispatch state for a single tenant.
type tenantState struct {
	limiter   *rate.Limiter
	maxActive int
	active    int
}

func newTenantState(cfg TenantConfig) *tenantState {
	ts := &tenantState{maxActive: cfg.MaxActive}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Manager controls per-tenant dispatch rate and in-flight counts. The
// scheduler consults it before submitting a claimed entry to the pool.
// Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given tenant configurations.
// Tenants not listed have no limits but still get active tracking.
func NewManager(configs ...TenantConfig) *Manager {
	m := &Manager{tenants: make(map[string]*tenantState, len(configs))}
	for _, cfg := range configs {
		m.tenants[cfg.TenantID] = newTenantState(cfg)
	}
	return m
}

// SetTenantConfig dynamically updates (or creates) a tenant's limits.
// The current active count carries over.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := newTenantState(cfg)
	if existing := m.tenants[cfg.TenantID]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[cfg.TenantID] = ts
}

// Acquire checks the tenant's rate and concurrency limits. If dispatch is
// allowed it increments the active counter and returns true. The caller
// MUST call Release when the execution finishes.
func (m *Manager) Acquire(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenants[tenantID]
	if ts == nil {
		ts = &tenantState{}
		m.tenants[tenantID] = ts
	}

	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.maxActive > 0 && ts.active >= ts.maxActive {
		return false
	}

	ts.active++
	return true
}

// Release decrements the tenant's active count.
func (m *Manager) Release(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tenants[tenantID]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// ActiveCount returns the tenant's current in-flight entry count.
func (m *Manager) ActiveCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}

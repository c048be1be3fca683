package queue

import (
	"testing"
)

func TestManagerMaxActive(t *testing.T) {
	m := NewManager(TenantConfig{TenantID: "tenant-a", MaxActive: 2})

	if !m.Acquire("tenant-a") {
		t.Fatal("first acquire refused")
	}
	if !m.Acquire("tenant-a") {
		t.Fatal("second acquire refused")
	}
	if m.Acquire("tenant-a") {
		t.Fatal("third acquire should exceed MaxActive")
	}
	if got := m.ActiveCount("tenant-a"); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}

	m.Release("tenant-a")
	if !m.Acquire("tenant-a") {
		t.Fatal("acquire after release refused")
	}
}

func TestManagerRateLimit(t *testing.T) {
	m := NewManager(TenantConfig{TenantID: "tenant-a", RateLimit: 1, RateBurst: 2})

	if !m.Acquire("tenant-a") || !m.Acquire("tenant-a") {
		t.Fatal("burst acquires refused")
	}
	if m.Acquire("tenant-a") {
		t.Fatal("acquire beyond burst should be throttled")
	}
}

func TestManagerUnknownTenantUnlimited(t *testing.T) {
	m := NewManager()

	for range 100 {
		if !m.Acquire("tenant-z") {
			t.Fatal("unconfigured tenant must not be throttled")
		}
	}
	if got := m.ActiveCount("tenant-z"); got != 100 {
		t.Errorf("ActiveCount = %d, want 100", got)
	}
}

func TestManagerTenantsIsolated(t *testing.T) {
	m := NewManager(TenantConfig{TenantID: "tenant-a", MaxActive: 1})

	if !m.Acquire("tenant-a") {
		t.Fatal("tenant-a acquire refused")
	}
	if m.Acquire("tenant-a") {
		t.Fatal("tenant-a should be at capacity")
	}
	if !m.Acquire("tenant-b") {
		t.Fatal("tenant-b must not be affected by tenant-a's limit")
	}
}

func TestSetTenantConfigPreservesActive(t *testing.T) {
	m := NewManager(TenantConfig{TenantID: "tenant-a", MaxActive: 5})

	m.Acquire("tenant-a")
	m.Acquire("tenant-a")

	m.SetTenantConfig(TenantConfig{TenantID: "tenant-a", MaxActive: 2})

	if got := m.ActiveCount("tenant-a"); got != 2 {
		t.Fatalf("ActiveCount after reconfigure = %d, want 2", got)
	}
	if m.Acquire("tenant-a") {
		t.Fatal("acquire should respect the lowered MaxActive")
	}

	m.Release("tenant-a")
	if !m.Acquire("tenant-a") {
		t.Fatal("acquire after release refused under new config")
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	m := NewManager()

	m.Release("tenant-a")
	m.Release("tenant-a")

	if got := m.ActiveCount("tenant-a"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

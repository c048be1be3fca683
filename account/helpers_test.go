package account

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/id"
)

// fakeStore is a minimal in-memory account store for ledger and selector
// tests. The full backend lives in store/memory; tests here only need the
// account surface.
type fakeStore struct {
	mu    sync.Mutex
	accts map[id.AccountID]*Account
}

func newFakeStore(accts ...*Account) *fakeStore {
	s := &fakeStore{accts: make(map[id.AccountID]*Account)}
	for _, a := range accts {
		cp := *a
		s.accts[a.ID] = &cp
	}
	return s
}

func (s *fakeStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accts[a.ID] = &cp
	return nil
}

func (s *fakeStore) GetAccount(_ context.Context, accountID id.AccountID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accts[accountID]
	if !ok {
		return nil, rotor.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) ListAccounts(_ context.Context, tenantID string) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Account
	for _, a := range s.accts {
		if a.TenantID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accts[a.ID]; !ok {
		return rotor.ErrAccountNotFound
	}
	cp := *a
	s.accts[a.ID] = &cp
	return nil
}

func (s *fakeStore) RecordDispatch(_ context.Context, accountID id.AccountID, now time.Time) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accts[accountID]
	if !ok {
		return nil, rotor.ErrAccountNotFound
	}
	ApplyDispatch(a, now)
	cp := *a
	return &cp, nil
}

func (s *fakeStore) ApplyAttempt(_ context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accts[accountID]
	if !ok {
		return nil, rotor.ErrAccountNotFound
	}
	ApplyOutcome(a, outcome, p, now)
	cp := *a
	return &cp, nil
}

func testAccount(tenantID string) *Account {
	return &Account{
		Entity:          rotor.NewEntity(),
		ID:              id.NewAccountID(),
		TenantID:        tenantID,
		Active:          true,
		ValidationState: ValidationActive,
		Credential:      []byte(`{"session":"li_at=abc123"}`),
		DailyLimit:      100,
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

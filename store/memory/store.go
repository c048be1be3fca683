package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/escalate"
	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/recurring"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ account.Store      = (*Store)(nil)
	_ account.UsageStore = (*Store)(nil)
	_ job.Store          = (*Store)(nil)
	_ queue.Store        = (*Store)(nil)
	_ cluster.Store      = (*Store)(nil)
	_ archive.Store      = (*Store)(nil)
	_ recurring.Store    = (*Store)(nil)
	_ event.Store        = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
//
// All entities are stored and returned as copies: callers can mutate what
// they get back without racing the store, and the store's atomic sections
// (claim, finalize, apply) mutate only under the write lock.
type Store struct {
	mu sync.RWMutex

	accounts  map[string]*account.Account
	usage     []*account.UsageRecord
	jobs      map[string]*job.Job
	entries   map[string]*queue.Entry
	workers   map[string]*cluster.Worker
	archives  map[string]*archive.Record
	schedules map[string]*recurring.Schedule
	events    []*event.Event

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		accounts:  make(map[string]*account.Account),
		jobs:      make(map[string]*job.Job),
		entries:   make(map[string]*queue.Entry),
		workers:   make(map[string]*cluster.Worker),
		archives:  make(map[string]*archive.Record),
		schedules: make(map[string]*recurring.Schedule),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Account Store
// ──────────────────────────────────────────────────

// CreateAccount stores a new account.
func (m *Store) CreateAccount(_ context.Context, a *account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.accounts[a.ID.String()] = &cp
	return nil
}

// GetAccount retrieves an account by ID.
func (m *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID.String()]
	if !ok {
		return nil, rotor.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAccounts returns all accounts belonging to a tenant.
func (m *Store) ListAccounts(_ context.Context, tenantID string) ([]*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*account.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		if a.TenantID != tenantID {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// UpdateAccount persists administrative edits to an existing account.
func (m *Store) UpdateAccount(_ context.Context, a *account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, ok := m.accounts[key]; !ok {
		return rotor.ErrAccountNotFound
	}
	cp := *a
	cp.Touch()
	m.accounts[key] = &cp
	return nil
}

// RecordDispatch atomically moves the request counter and last-request
// stamp for one dispatched request.
func (m *Store) RecordDispatch(_ context.Context, accountID id.AccountID, now time.Time) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID.String()]
	if !ok {
		return nil, rotor.ErrAccountNotFound
	}
	account.ApplyDispatch(a, now)
	cp := *a
	return &cp, nil
}

// ApplyAttempt atomically applies one settled execution outcome to an
// account.
func (m *Store) ApplyAttempt(_ context.Context, accountID id.AccountID, outcome rotor.Outcome, p escalate.Policy, now time.Time) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID.String()]
	if !ok {
		return nil, rotor.ErrAccountNotFound
	}
	account.ApplyOutcome(a, outcome, p, now)
	cp := *a
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Usage Store
// ──────────────────────────────────────────────────

// AppendUsage stores one attempt record.
func (m *Store) AppendUsage(_ context.Context, rec *account.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.usage = append(m.usage, &cp)
	return nil
}

// ListUsage returns usage records for an account, newest first.
func (m *Store) ListUsage(_ context.Context, accountID id.AccountID, since time.Time, limit int) ([]*account.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*account.UsageRecord
	for _, rec := range m.usage {
		if rec.AccountID.String() != accountID.String() {
			continue
		}
		if rec.RecordedAt.Before(since) {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].RecordedAt.Equal(result[k].RecordedAt) {
			return result[i].RecordedAt.After(result[k].RecordedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// PruneUsage deletes records older than the cutoff.
func (m *Store) PruneUsage(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.usage[:0]
	var removed int64
	for _, rec := range m.usage {
		if rec.RecordedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.usage = kept
	return removed, nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return rotor.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rotor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns a tenant's jobs, optionally filtered by status,
// newest first.
func (m *Store) ListJobs(_ context.Context, tenantID string, statuses ...job.Status) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[job.Status]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[j.Status]; !ok {
				continue
			}
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	return result, nil
}

// MarkJobRunning transitions pending → running.
func (m *Store) MarkJobRunning(_ context.Context, jobID id.JobID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return rotor.ErrJobNotFound
	}
	return j.MarkRunning(now)
}

// RecordEntryOutcome atomically counts one terminal entry outcome.
func (m *Store) RecordEntryOutcome(_ context.Context, jobID id.JobID, success bool, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rotor.ErrJobNotFound
	}
	job.ApplyEntryOutcome(j, success, now)
	cp := *j
	return &cp, nil
}

// PauseJob moves a job into the paused side-state.
func (m *Store) PauseJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rotor.ErrJobNotFound
	}
	if err := j.Pause(); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

// ResumeJob leaves the paused side-state.
func (m *Store) ResumeJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rotor.ErrJobNotFound
	}
	if err := j.Resume(); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

// CancelJob withdraws an unfinished job.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rotor.ErrJobNotFound
	}
	if err := j.Cancel(now); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// EnqueueEntries stores a batch of new entries.
func (m *Store) EnqueueEntries(_ context.Context, entries []*queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		cp := *e
		m.entries[e.ID.String()] = &cp
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (m *Store) GetEntry(_ context.Context, entryID id.EntryID) (*queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, rotor.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEntriesByJob returns all entries of a job, oldest first.
func (m *Store) ListEntriesByJob(_ context.Context, jobID id.JobID) ([]*queue.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := jobID.String()
	var result []*queue.Entry
	for _, e := range m.entries {
		if e.JobID.String() != key {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// claimBefore orders claimable entries: priority first (lower value wins),
// FIFO within a priority, entry ID as the final tiebreak so two entries
// created in the same instant still claim deterministically.
func claimBefore(a, b *queue.Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// ClaimNext atomically claims the next claimable entry for a worker.
// The whole select-and-assign runs under the store lock, so two
// concurrent claimers can never get the same entry.
func (m *Store) ClaimNext(_ context.Context, workerID id.WorkerID, now time.Time) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *queue.Entry
	for _, e := range m.entries {
		if !e.Claimable(now) {
			continue
		}
		if best == nil || claimBefore(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Assign(workerID, now)
	cp := *best
	return &cp, nil
}

// MarkEntryProcessing transitions assigned → processing and persists the
// resolved account binding.
func (m *Store) MarkEntryProcessing(_ context.Context, entryID id.EntryID, accountID id.AccountID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return rotor.ErrEntryNotFound
	}
	if e.Status != queue.StatusAssigned {
		return rotor.ErrInvalidState
	}
	e.Bind(accountID)
	e.StartProcessing(now)
	return nil
}

// ReleaseEntry puts an assigned or processing entry back to queued.
// Releasing an entry that is already queued or terminal is a no-op, so a
// release racing an orphan sweep or a finalize stays quiet.
func (m *Store) ReleaseEntry(_ context.Context, entryID id.EntryID, delay time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return rotor.ErrEntryNotFound
	}
	if e.Status != queue.StatusAssigned && e.Status != queue.StatusProcessing {
		return nil
	}
	e.Release(now)
	if delay > 0 {
		nb := now.Add(delay)
		e.NotBefore = &nb
		e.Touch()
	}
	return nil
}

// FinalizeEntry applies one execution outcome. Finalizing an entry that
// is already terminal returns the stored entry with applied=false.
func (m *Store) FinalizeEntry(_ context.Context, entryID id.EntryID, outcome rotor.Outcome, reason string, retryDelay time.Duration, now time.Time) (*queue.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, false, rotor.ErrEntryNotFound
	}
	if e.Status.Terminal() {
		cp := *e
		return &cp, false, nil
	}
	queue.ApplyFinalize(e, outcome, reason, retryDelay, now)
	cp := *e
	return &cp, true, nil
}

// RequeueOrphans releases entries whose claim is older than olderThan.
func (m *Store) RequeueOrphans(_ context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-olderThan)
	var count int64
	for _, e := range m.entries {
		if e.Status != queue.StatusAssigned && e.Status != queue.StatusProcessing {
			continue
		}
		claimedAt := e.UpdatedAt
		if e.StartedAt != nil {
			claimedAt = *e.StartedAt
		} else if e.AssignedAt != nil {
			claimedAt = *e.AssignedAt
		}
		if claimedAt.After(cutoff) {
			continue
		}
		e.Release(now)
		count++
	}
	return count, nil
}

// HoldEntries excludes a job's queued entries from claiming.
func (m *Store) HoldEntries(_ context.Context, jobID id.JobID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	var count int64
	for _, e := range m.entries {
		if e.JobID.String() != key || e.Status != queue.StatusQueued || e.Held {
			continue
		}
		e.Held = true
		e.Touch()
		count++
	}
	return count, nil
}

// UnholdEntries puts a job's held entries back in claimable state.
func (m *Store) UnholdEntries(_ context.Context, jobID id.JobID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	var count int64
	for _, e := range m.entries {
		if e.JobID.String() != key || !e.Held {
			continue
		}
		e.Held = false
		e.Touch()
		count++
	}
	return count, nil
}

// CancelQueuedEntries terminally fails a job's queued entries.
func (m *Store) CancelQueuedEntries(_ context.Context, jobID id.JobID, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	outcome := rotor.Outcome{Success: false, Class: rotor.ClassPermanent}
	var count int64
	for _, e := range m.entries {
		if e.JobID.String() != key || e.Status != queue.StatusQueued {
			continue
		}
		queue.ApplyFinalize(e, outcome, reason, 0, now)
		e.Held = false
		count++
	}
	return count, nil
}

// CountEntries returns entry counts by status.
func (m *Store) CountEntries(_ context.Context) (map[queue.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[queue.Status]int)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return rotor.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return rotor.ErrWorkerNotFound
	}
	w.LastSeen = now
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// UpdateWorkerState moves a worker between lifecycle states.
func (m *Store) UpdateWorkerState(_ context.Context, workerID id.WorkerID, state cluster.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return rotor.ErrWorkerNotFound
	}
	w.State = state
	return nil
}

// StaleWorkers returns non-dead workers whose last heartbeat is older
// than the threshold.
func (m *Store) StaleWorkers(_ context.Context, threshold time.Duration, now time.Time) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*cluster.Worker
	for _, w := range m.workers {
		if w.State == cluster.StateDead {
			continue
		}
		if w.Stale(threshold, now) {
			cp := *w
			stale = append(stale, &cp)
		}
	}

	sort.Slice(stale, func(i, k int) bool {
		return stale[i].ID.String() < stale[k].ID.String()
	})

	return stale, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()

	// If there's already a leader whose TTL hasn't expired and it's not
	// us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	// Taking over from an expired leader: clear its flag.
	if m.leader != "" && m.leader != wKey {
		if prev, ok := m.workers[m.leader]; ok {
			prev.IsLeader = false
			prev.LeaderUntil = nil
		}
	}

	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}

	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// ReleaseLeadership gives up the lease if held.
func (m *Store) ReleaseLeadership(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return nil
	}

	m.leader = ""
	m.leaderUntil = time.Time{}

	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = false
		w.LeaderUntil = nil
	}

	return nil
}

// GetLeader returns the worker holding an unexpired lease, or nil.
func (m *Store) GetLeader(_ context.Context, now time.Time) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(now) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Archive Store
// ──────────────────────────────────────────────────

// PushArchive persists a new archive record.
func (m *Store) PushArchive(_ context.Context, rec *archive.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.archives[rec.ID.String()] = &cp
	return nil
}

// GetArchive retrieves an archive record by ID.
func (m *Store) GetArchive(_ context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.archives[archiveID.String()]
	if !ok {
		return nil, rotor.ErrArchiveNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListArchive returns archive records matching the options, newest first.
func (m *Store) ListArchive(_ context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*archive.Record, 0, len(m.archives))
	for _, rec := range m.archives {
		if opts.TenantID != "" && rec.TenantID != opts.TenantID {
			continue
		}
		if !opts.JobID.IsNil() && rec.JobID.String() != opts.JobID.String() {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].FailedAt.Equal(result[k].FailedAt) {
			return result[i].FailedAt.After(result[k].FailedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// MarkReplayed stamps an archive record as replayed.
func (m *Store) MarkReplayed(_ context.Context, archiveID id.ArchiveID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.archives[archiveID.String()]
	if !ok {
		return rotor.ErrArchiveNotFound
	}
	t := at
	rec.ReplayedAt = &t
	return nil
}

// PurgeArchive removes records that failed before the given time.
func (m *Store) PurgeArchive(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, rec := range m.archives {
		if rec.FailedAt.Before(before) {
			delete(m.archives, key)
			count++
		}
	}
	return count, nil
}

// CountArchive returns the total number of archive records.
func (m *Store) CountArchive(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.archives)), nil
}

// ──────────────────────────────────────────────────
// Recurring Store
// ──────────────────────────────────────────────────

// RegisterRecurring persists a new schedule. Returns an error if the
// name already exists.
func (m *Store) RegisterRecurring(_ context.Context, sc *recurring.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.schedules {
		if existing.Name == sc.Name {
			return rotor.ErrRecurringExists
		}
	}

	cp := *sc
	m.schedules[sc.ID.String()] = &cp
	return nil
}

// GetRecurring retrieves a schedule by ID.
func (m *Store) GetRecurring(_ context.Context, recurringID id.RecurringID) (*recurring.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sc, ok := m.schedules[recurringID.String()]
	if !ok {
		return nil, rotor.ErrRecurringNotFound
	}
	cp := *sc
	return &cp, nil
}

// ListRecurring returns all schedules.
func (m *Store) ListRecurring(_ context.Context) ([]*recurring.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*recurring.Schedule, 0, len(m.schedules))
	for _, sc := range m.schedules {
		cp := *sc
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// AcquireRecurringLock takes the firing lock for a schedule.
func (m *Store) AcquireRecurringLock(_ context.Context, recurringID id.RecurringID, workerID id.WorkerID, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.schedules[recurringID.String()]
	if !ok {
		return false, rotor.ErrRecurringNotFound
	}

	// Locked by someone else and not expired: fail.
	if !sc.LockedBy.IsNil() && sc.LockedUntil != nil && sc.LockedUntil.After(now) {
		if sc.LockedBy.String() != workerID.String() {
			return false, nil
		}
	}

	sc.LockedBy = workerID
	until := now.Add(ttl)
	sc.LockedUntil = &until
	return true, nil
}

// ReleaseRecurringLock drops the firing lock if held by this worker.
func (m *Store) ReleaseRecurringLock(_ context.Context, recurringID id.RecurringID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.schedules[recurringID.String()]
	if !ok {
		return rotor.ErrRecurringNotFound
	}

	if sc.LockedBy.String() != workerID.String() {
		return nil
	}

	sc.LockedBy = id.Nil
	sc.LockedUntil = nil
	return nil
}

// MarkRecurringRun records one firing and the next due time.
func (m *Store) MarkRecurringRun(_ context.Context, recurringID id.RecurringID, ranAt, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.schedules[recurringID.String()]
	if !ok {
		return rotor.ErrRecurringNotFound
	}
	ra := ranAt
	nr := nextRun
	sc.LastRunAt = &ra
	sc.NextRunAt = &nr
	sc.Touch()
	return nil
}

// UpdateRecurring persists administrative edits to a schedule.
func (m *Store) UpdateRecurring(_ context.Context, sc *recurring.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sc.ID.String()
	if _, ok := m.schedules[key]; !ok {
		return rotor.ErrRecurringNotFound
	}
	cp := *sc
	cp.Touch()
	m.schedules[key] = &cp
	return nil
}

// DeleteRecurring removes a schedule.
func (m *Store) DeleteRecurring(_ context.Context, recurringID id.RecurringID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recurringID.String()
	if _, ok := m.schedules[key]; !ok {
		return rotor.ErrRecurringNotFound
	}
	delete(m.schedules, key)
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists one feed item.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events = append(m.events, &cp)
	return nil
}

// ListEventsByJob returns a job's events in append order, strictly after
// the given event ID.
func (m *Store) ListEventsByJob(_ context.Context, jobID id.JobID, after id.EventID, limit int) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := jobID.String()
	seen := after.IsNil()
	var result []*event.Event
	for _, evt := range m.events {
		if !seen {
			if evt.ID.String() == after.String() {
				seen = true
			}
			continue
		}
		if evt.JobID.String() != key {
			continue
		}
		cp := *evt
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

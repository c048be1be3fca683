//go:build integration

package redis_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

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
	redisstore "github.com/xraph/rotor/store/redis"
)

// setupTestStore creates a Redis container and returns a connected Store.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	opts, err := goredis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("parse connection string: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})

	store := redisstore.New(client, redisstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func testAccount(tenantID string) *account.Account {
	return &account.Account{
		Entity:          rotor.NewEntity(),
		ID:              id.NewAccountID(),
		TenantID:        tenantID,
		Label:           "acct",
		Active:          true,
		ValidationState: account.ValidationActive,
		Credential:      []byte(`{"token":"secret"}`),
		DailyLimit:      100,
		MinDelay:        2 * time.Second,
	}
}

func testJob(tenantID string, items []string) *job.Job {
	j, err := job.New(tenantID, "test-job", account.TypeProfile, items)
	if err != nil {
		panic(err)
	}
	return j
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Account store tests
// ──────────────────────────────────────────────────

func TestAccountStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := testAccount("tenant-1")
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Label != "acct" {
		t.Fatalf("expected label acct, got %s", got.Label)
	}
	if got.DailyLimit != 100 {
		t.Fatalf("expected daily limit 100, got %d", got.DailyLimit)
	}
	if got.MinDelay != 2*time.Second {
		t.Fatalf("expected min delay 2s, got %s", got.MinDelay)
	}

	_, getErr := s.GetAccount(ctx, id.NewAccountID())
	if !errors.Is(getErr, rotor.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got: %v", getErr)
	}
}

func TestAccountStore_ListByTenant(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := testAccount("tenant-a")
		a.Label = fmt.Sprintf("acct-%d", i)
		if err := s.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	other := testAccount("tenant-b")
	if err := s.CreateAccount(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	accounts, err := s.ListAccounts(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3, got %d", len(accounts))
	}
}

func TestAccountStore_Update(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := testAccount("tenant-1")
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	a.Label = "renamed"
	a.DailyLimit = 50
	a.Active = false
	if err := s.UpdateAccount(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Label != "renamed" || got.DailyLimit != 50 || got.Active {
		t.Fatalf("update not persisted: %+v", got)
	}

	ghost := testAccount("tenant-1")
	if err := s.UpdateAccount(ctx, ghost); !errors.Is(err, rotor.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got: %v", err)
	}
}

func TestAccountStore_ApplyAttempt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := testAccount("tenant-1")
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	policy := escalate.Default()

	// The dispatch moves the budget; the settlement leaves it alone.
	got, err := s.RecordDispatch(ctx, a.ID, now)
	if err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if got.RequestsToday != 1 {
		t.Fatalf("expected 1 request today, got %d", got.RequestsToday)
	}
	if got.LastRequestAt == nil {
		t.Fatal("expected last_request_at to be set")
	}

	got, err = s.ApplyAttempt(ctx, a.ID, rotor.SuccessOutcome(time.Second), policy, now)
	if err != nil {
		t.Fatalf("apply success: %v", err)
	}
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected 0 failures, got %d", got.ConsecutiveFailures)
	}
	if got.RequestsToday != 1 {
		t.Fatalf("settlement must not move the counter, got %d", got.RequestsToday)
	}

	if _, err = s.RecordDispatch(ctx, a.ID, now); err != nil {
		t.Fatalf("record dispatch 2: %v", err)
	}
	got, err = s.ApplyAttempt(ctx, a.ID, rotor.FailureOutcome(rotor.ClassRateLimit, time.Second), policy, now)
	if err != nil {
		t.Fatalf("apply rate limit: %v", err)
	}
	if got.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", got.ConsecutiveFailures)
	}
	if got.BlockedUntil == nil {
		t.Fatal("expected blocked_until to be set")
	}
	if got.RequestsToday != 2 {
		t.Fatalf("expected 2 requests today, got %d", got.RequestsToday)
	}

	// Counters survive a round trip.
	persisted, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if persisted.ConsecutiveFailures != 1 || persisted.BlockedUntil == nil {
		t.Fatalf("attempt not persisted: %+v", persisted)
	}

	_, err = s.ApplyAttempt(ctx, id.NewAccountID(), rotor.SuccessOutcome(0), policy, now)
	if !errors.Is(err, rotor.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got: %v", err)
	}
	_, err = s.RecordDispatch(ctx, id.NewAccountID(), now)
	if !errors.Is(err, rotor.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Usage store tests
// ──────────────────────────────────────────────────

func TestUsageStore_AppendListPrune(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	accountID := id.NewAccountID()
	base := time.Now().UTC().Add(-3 * time.Hour)

	for i := 0; i < 3; i++ {
		rec := &account.UsageRecord{
			ID:         id.NewUsageID(),
			AccountID:  accountID,
			JobID:      id.NewJobID(),
			EntryID:    id.NewEntryID(),
			TenantID:   "tenant-1",
			Success:    i%2 == 0,
			Latency:    150 * time.Millisecond,
			RecordedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// All records, newest first.
	records, err := s.ListUsage(ctx, accountID, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3, got %d", len(records))
	}
	if records[0].RecordedAt.Before(records[1].RecordedAt) {
		t.Fatal("expected newest first")
	}

	// Since-filter excludes the oldest.
	records, err = s.ListUsage(ctx, accountID, base.Add(30*time.Minute), 0)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 since cutoff, got %d", len(records))
	}

	// Limit caps the result.
	records, err = s.ListUsage(ctx, accountID, time.Time{}, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 limited, got %d", len(records))
	}

	// Prune the two older records.
	removed, err := s.PruneUsage(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned, got %d", removed)
	}
}

// ──────────────────────────────────────────────────
// Job store tests
// ──────────────────────────────────────────────────

func TestJobStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob("tenant-1", []string{"item-a", "item-b"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate should fail.
	if dupErr := s.CreateJob(ctx, j); !errors.Is(dupErr, rotor.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got: %v", dupErr)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "test-job" {
		t.Fatalf("expected name test-job, got %s", got.Name)
	}
	if got.Total != 2 || len(got.Items) != 2 {
		t.Fatalf("expected 2 items, got total=%d len=%d", got.Total, len(got.Items))
	}
	if got.Status != job.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

func TestJobStore_ListByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		j := testJob("tenant-a", []string{"item"})
		if i >= 3 {
			j.Status = job.StatusCompleted
		}
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	other := testJob("tenant-b", []string{"item"})
	if err := s.CreateJob(ctx, other); err != nil {
		t.Fatalf("create other tenant: %v", err)
	}

	all, err := s.ListJobs(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4, got %d", len(all))
	}

	pending, err := s.ListJobs(ctx, "tenant-a", job.StatusPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
}

func TestJobStore_MarkRunningAndOutcomes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob("tenant-1", []string{"a", "b"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	if err := s.MarkJobRunning(ctx, j.ID, now); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	// Idempotent for an already-running job.
	if err := s.MarkJobRunning(ctx, j.ID, now); err != nil {
		t.Fatalf("mark running twice: %v", err)
	}

	got, err := s.RecordEntryOutcome(ctx, j.ID, true, now)
	if err != nil {
		t.Fatalf("record outcome 1: %v", err)
	}
	if got.Processed != 1 || got.Successful != 1 {
		t.Fatalf("expected 1/1, got processed=%d successful=%d", got.Processed, got.Successful)
	}
	if got.Status != job.StatusRunning {
		t.Fatalf("expected still running, got %s", got.Status)
	}

	got, err = s.RecordEntryOutcome(ctx, j.ID, false, now)
	if err != nil {
		t.Fatalf("record outcome 2: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Failed != 1 || got.CompletedAt == nil {
		t.Fatalf("expected failed=1 and completed_at set, got %+v", got)
	}
}

func TestJobStore_PauseResume(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob("tenant-1", []string{"a"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	paused, err := s.PauseJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != job.StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}

	resumed, err := s.ResumeJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != job.StatusPending {
		t.Fatalf("expected pending after resume, got %s", resumed.Status)
	}

	// Resuming a job that is not paused fails.
	if _, err := s.ResumeJob(ctx, j.ID); !errors.Is(err, rotor.ErrJobNotPaused) {
		t.Fatalf("expected ErrJobNotPaused, got: %v", err)
	}
}

func TestJobStore_Cancel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := testJob("tenant-1", []string{"a"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	canceled, err := s.CancelJob(ctx, j.ID, now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != job.StatusCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
	if canceled.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	if _, err := s.CancelJob(ctx, j.ID, now); !errors.Is(err, rotor.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Queue store tests
// ──────────────────────────────────────────────────

func TestQueueStore_EnqueueAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID := id.NewJobID()
	entries := []*queue.Entry{
		queue.New(jobID, "tenant-1", account.TypeProfile, "item-a", 0, 3),
		queue.New(jobID, "tenant-1", account.TypeProfile, "item-b", 0, 3),
	}
	if err := s.EnqueueEntries(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.GetEntry(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload != "item-a" {
		t.Fatalf("expected item-a, got %s", got.Payload)
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}

	listed, err := s.ListEntriesByJob(ctx, jobID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2, got %d", len(listed))
	}

	_, getErr := s.GetEntry(ctx, id.NewEntryID())
	if !errors.Is(getErr, rotor.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", getErr)
	}
}

func TestQueueStore_ClaimOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID := id.NewJobID()
	entries := []*queue.Entry{
		queue.New(jobID, "tenant-1", account.TypeProfile, "low", 2, 3),
		queue.New(jobID, "tenant-1", account.TypeProfile, "high", 0, 3),
		queue.New(jobID, "tenant-1", account.TypeProfile, "mid", 1, 3),
	}
	if err := s.EnqueueEntries(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	workerID := id.NewWorkerID()
	now := time.Now().UTC()

	want := []string{"high", "mid", "low"}
	for i, expected := range want {
		e, err := s.ClaimNext(ctx, workerID, now)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if e == nil {
			t.Fatalf("claim %d: expected entry, got nil", i)
		}
		if e.Payload != expected {
			t.Fatalf("claim %d: expected %s, got %s", i, expected, e.Payload)
		}
		if e.Status != queue.StatusAssigned {
			t.Fatalf("claim %d: expected assigned, got %s", i, e.Status)
		}
		if e.AssignedAt == nil {
			t.Fatalf("claim %d: expected assigned_at", i)
		}
	}

	// Empty queue is not an error.
	e, err := s.ClaimNext(ctx, workerID, now)
	if err != nil {
		t.Fatalf("claim empty: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil on empty queue, got %v", e.Payload)
	}
}

func TestQueueStore_ClaimHonorsGates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	deferred := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "deferred", 0, 3)
	nb := now.Add(time.Hour)
	deferred.NotBefore = &nb

	held := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "held", 0, 3)
	held.Held = true

	if err := s.EnqueueEntries(ctx, []*queue.Entry{deferred, held}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	e, err := s.ClaimNext(ctx, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nothing claimable, got %s", e.Payload)
	}

	// Past the retry gate the deferred entry claims fine.
	e, err = s.ClaimNext(ctx, id.NewWorkerID(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("claim after gate: %v", err)
	}
	if e == nil || e.Payload != "deferred" {
		t.Fatalf("expected deferred entry, got %v", e)
	}
}

func TestQueueStore_MarkProcessing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "item", 0, 3)
	if err := s.EnqueueEntries(ctx, []*queue.Entry{entry}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	accountID := id.NewAccountID()

	// Not assigned yet.
	if err := s.MarkEntryProcessing(ctx, entry.ID, accountID, now); !errors.Is(err, rotor.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got: %v", err)
	}

	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := s.MarkEntryProcessing(ctx, entry.ID, accountID, now); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	got, err := s.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
	if got.AccountID != accountID {
		t.Fatalf("expected account binding %s, got %s", accountID, got.AccountID)
	}
	if got.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}

	if err := s.MarkEntryProcessing(ctx, id.NewEntryID(), accountID, now); !errors.Is(err, rotor.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", err)
	}
}

func TestQueueStore_ReleaseEntry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "item", 0, 3)
	if err := s.EnqueueEntries(ctx, []*queue.Entry{entry}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()

	// Releasing a queued entry is a no-op.
	if err := s.ReleaseEntry(ctx, entry.ID, 0, now); err != nil {
		t.Fatalf("release queued: %v", err)
	}

	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := s.ReleaseEntry(ctx, entry.ID, 5*time.Minute, now); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := s.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}
	if !got.WorkerID.IsNil() || got.AssignedAt != nil {
		t.Fatalf("expected claim cleared, got %+v", got)
	}
	if got.NotBefore == nil || !got.NotBefore.After(now) {
		t.Fatalf("expected retry gate pushed out, got %v", got.NotBefore)
	}
	if got.RetryCount != 0 {
		t.Fatalf("release must not consume retry budget, got %d", got.RetryCount)
	}

	if err := s.ReleaseEntry(ctx, id.NewEntryID(), 0, now); !errors.Is(err, rotor.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", err)
	}
}

func TestQueueStore_FinalizeSuccess(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "item", 0, 3)
	if err := s.EnqueueEntries(ctx, []*queue.Entry{entry}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	got, applied, err := s.FinalizeEntry(ctx, entry.ID, rotor.SuccessOutcome(time.Second), "", 0, now)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !applied {
		t.Fatal("expected applied")
	}
	if got.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	// Finalizing again is a no-op.
	got, applied, err = s.FinalizeEntry(ctx, entry.ID, rotor.SuccessOutcome(time.Second), "", 0, now)
	if err != nil {
		t.Fatalf("finalize twice: %v", err)
	}
	if applied {
		t.Fatal("expected applied=false for terminal entry")
	}
	if got.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	_, _, err = s.FinalizeEntry(ctx, id.NewEntryID(), rotor.SuccessOutcome(0), "", 0, now)
	if !errors.Is(err, rotor.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got: %v", err)
	}
}

func TestQueueStore_FinalizeRetryThenExhaust(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "item", 0, 1)
	if err := s.EnqueueEntries(ctx, []*queue.Entry{entry}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	outcome := rotor.FailureOutcome(rotor.ClassTransient, time.Second)

	got, applied, err := s.FinalizeEntry(ctx, entry.ID, outcome, "timeout", time.Minute, now)
	if err != nil {
		t.Fatalf("finalize 1: %v", err)
	}
	if !applied {
		t.Fatal("expected applied")
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("expected requeued, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", got.RetryCount)
	}
	if got.NotBefore == nil {
		t.Fatal("expected retry gate")
	}
	if got.LastError != "timeout" {
		t.Fatalf("expected last_error timeout, got %q", got.LastError)
	}

	// Budget exhausted: terminal failure.
	got, _, err = s.FinalizeEntry(ctx, entry.ID, outcome, "timeout again", 0, now)
	if err != nil {
		t.Fatalf("finalize 2: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestQueueStore_RequeueOrphans(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "orphan", 0, 3)
	fresh := queue.New(id.NewJobID(), "tenant-1", account.TypeProfile, "fresh", 5, 3)
	if err := s.EnqueueEntries(ctx, []*queue.Entry{entry, fresh}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()

	// Claim one an hour ago, the other just now.
	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), now.Add(-time.Hour)); err != nil {
		t.Fatalf("claim orphan: %v", err)
	}
	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), now); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	requeued, err := s.RequeueOrphans(ctx, 30*time.Minute, now)
	if err != nil {
		t.Fatalf("requeue orphans: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued, got %d", requeued)
	}

	got, err := s.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get orphan: %v", err)
	}
	if got.Status != queue.StatusQueued {
		t.Fatalf("expected orphan requeued, got %s", got.Status)
	}

	stillClaimed, err := s.GetEntry(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if stillClaimed.Status != queue.StatusAssigned {
		t.Fatalf("expected fresh claim intact, got %s", stillClaimed.Status)
	}
}

func TestQueueStore_HoldUnhold(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID := id.NewJobID()
	entries := []*queue.Entry{
		queue.New(jobID, "tenant-1", account.TypeProfile, "a", 0, 3),
		queue.New(jobID, "tenant-1", account.TypeProfile, "b", 0, 3),
	}
	if err := s.EnqueueEntries(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	held, err := s.HoldEntries(ctx, jobID)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held != 2 {
		t.Fatalf("expected 2 held, got %d", held)
	}

	now := time.Now().UTC()
	if e, _ := s.ClaimNext(ctx, id.NewWorkerID(), now); e != nil {
		t.Fatalf("expected held entries unclaimable, got %s", e.Payload)
	}

	unheld, err := s.UnholdEntries(ctx, jobID)
	if err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if unheld != 2 {
		t.Fatalf("expected 2 unheld, got %d", unheld)
	}

	e, err := s.ClaimNext(ctx, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("claim after unhold: %v", err)
	}
	if e == nil {
		t.Fatal("expected claimable entry after unhold")
	}
}

func TestQueueStore_CancelQueued(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID := id.NewJobID()
	queued := queue.New(jobID, "tenant-1", account.TypeProfile, "waiting", 1, 3)
	inflight := queue.New(jobID, "tenant-1", account.TypeProfile, "running", 0, 3)
	if err := s.EnqueueEntries(ctx, []*queue.Entry{queued, inflight}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	now := time.Now().UTC()
	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	canceled, err := s.CancelQueuedEntries(ctx, jobID, "job canceled", now)
	if err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	if canceled != 1 {
		t.Fatalf("expected 1 canceled, got %d", canceled)
	}

	got, err := s.GetEntry(ctx, queued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.LastError != "job canceled" {
		t.Fatalf("expected reason, got %q", got.LastError)
	}

	still, err := s.GetEntry(ctx, inflight.ID)
	if err != nil {
		t.Fatalf("get in-flight: %v", err)
	}
	if still.Status != queue.StatusAssigned {
		t.Fatalf("expected in-flight untouched, got %s", still.Status)
	}
}

func TestQueueStore_CountEntries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID := id.NewJobID()
	entries := []*queue.Entry{
		queue.New(jobID, "tenant-1", account.TypeProfile, "a", 0, 3),
		queue.New(jobID, "tenant-1", account.TypeProfile, "b", 1, 3),
		queue.New(jobID, "tenant-1", account.TypeProfile, "c", 2, 3),
	}
	if err := s.EnqueueEntries(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), time.Now().UTC()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	counts, err := s.CountEntries(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[queue.StatusQueued] != 2 {
		t.Fatalf("expected 2 queued, got %d", counts[queue.StatusQueued])
	}
	if counts[queue.StatusAssigned] != 1 {
		t.Fatalf("expected 1 assigned, got %d", counts[queue.StatusAssigned])
	}
}

// ──────────────────────────────────────────────────
// Cluster store tests
// ──────────────────────────────────────────────────

func testWorker(hostname string) *cluster.Worker {
	return &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    hostname,
		Concurrency: 10,
		State:       cluster.StateActive,
		LastSeen:    time.Now().UTC(),
		Metadata:    map[string]string{"version": "1.0"},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestClusterStore_RegisterHeartbeatDeregister(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	w := testWorker("worker-1")
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("register: %v", err)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(workers) != 1 || workers[0].Hostname != "worker-1" {
		t.Fatalf("unexpected workers: %+v", workers)
	}
	if workers[0].Metadata["version"] != "1.0" {
		t.Fatalf("expected metadata round trip, got %v", workers[0].Metadata)
	}

	later := time.Now().UTC().Add(time.Minute)
	if err := s.HeartbeatWorker(ctx, w.ID, later); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := s.HeartbeatWorker(ctx, id.NewWorkerID(), later); !errors.Is(err, rotor.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got: %v", err)
	}

	if err := s.UpdateWorkerState(ctx, w.ID, cluster.StateDraining); err != nil {
		t.Fatalf("update state: %v", err)
	}
	workers, err = s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("list after drain: %v", err)
	}
	if workers[0].State != cluster.StateDraining {
		t.Fatalf("expected draining, got %s", workers[0].State)
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	workers, err = s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("list after deregister: %v", err)
	}
	if len(workers) != 0 {
		t.Fatalf("expected 0, got %d", len(workers))
	}
}

func TestClusterStore_StaleWorkers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	stale := testWorker("stale")
	stale.LastSeen = now.Add(-5 * time.Minute)
	fresh := testWorker("fresh")
	fresh.LastSeen = now
	dead := testWorker("dead")
	dead.LastSeen = now.Add(-time.Hour)
	dead.State = cluster.StateDead

	for _, w := range []*cluster.Worker{stale, fresh, dead} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("register %s: %v", w.Hostname, err)
		}
	}

	got, err := s.StaleWorkers(ctx, time.Minute, now)
	if err != nil {
		t.Fatalf("stale workers: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stale, got %d", len(got))
	}
	if got[0].Hostname != "stale" {
		t.Fatalf("expected stale worker, got %s", got[0].Hostname)
	}
}

func TestClusterStore_Leadership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	w1 := testWorker("leader-1")
	w2 := testWorker("leader-2")
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	now := time.Now().UTC()

	// w1 acquires leadership.
	acquired, err := s.AcquireLeadership(ctx, w1.ID, 30*time.Second, now)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired")
	}

	// w2 cannot acquire while the lease is live.
	acquired, err = s.AcquireLeadership(ctx, w2.ID, 30*time.Second, now)
	if err != nil {
		t.Fatalf("acquire by w2: %v", err)
	}
	if acquired {
		t.Fatal("expected not acquired by w2")
	}

	leader, err := s.GetLeader(ctx, now)
	if err != nil {
		t.Fatalf("get leader: %v", err)
	}
	if leader == nil || leader.ID != w1.ID {
		t.Fatalf("expected w1 as leader, got %+v", leader)
	}

	// w1 renews, w2 cannot.
	renewed, err := s.RenewLeadership(ctx, w1.ID, 30*time.Second, now)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed {
		t.Fatal("expected renewed")
	}
	renewed, err = s.RenewLeadership(ctx, w2.ID, 30*time.Second, now)
	if err != nil {
		t.Fatalf("renew by w2: %v", err)
	}
	if renewed {
		t.Fatal("expected not renewed by w2")
	}
}

func TestClusterStore_LeaderExpiryAndRelease(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	w1 := testWorker("expiring")
	w2 := testWorker("successor")
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	now := time.Now().UTC()

	if _, err := s.AcquireLeadership(ctx, w1.ID, time.Second, now); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// After the lease expires w2 takes over.
	acquired, err := s.AcquireLeadership(ctx, w2.ID, 30*time.Second, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired after expiry")
	}

	leader, err := s.GetLeader(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("get leader: %v", err)
	}
	if leader == nil || leader.ID != w2.ID {
		t.Fatalf("expected w2 as leader, got %+v", leader)
	}

	if err := s.ReleaseLeadership(ctx, w2.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	leader, err = s.GetLeader(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("get leader after release: %v", err)
	}
	if leader != nil {
		t.Fatalf("expected no leader, got %s", leader.Hostname)
	}

	// Releasing without holding is a no-op.
	if err := s.ReleaseLeadership(ctx, w1.ID); err != nil {
		t.Fatalf("release without holding: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Recurring store tests
// ──────────────────────────────────────────────────

func testSchedule(name string) *recurring.Schedule {
	sc, err := recurring.New(name, "tenant-1", "0 6 * * *", "daily-scrape",
		account.TypeProfile, []string{"item-a"})
	if err != nil {
		panic(err)
	}
	return sc
}

func TestRecurringStore_RegisterAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sc := testSchedule("morning-run")
	if err := s.RegisterRecurring(ctx, sc); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Duplicate name should fail.
	dup := testSchedule("morning-run")
	if dupErr := s.RegisterRecurring(ctx, dup); !errors.Is(dupErr, rotor.ErrRecurringExists) {
		t.Fatalf("expected ErrRecurringExists, got: %v", dupErr)
	}

	got, err := s.GetRecurring(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "morning-run" {
		t.Fatalf("expected morning-run, got %s", got.Name)
	}
	if got.Expr != "0 6 * * *" {
		t.Fatalf("expected cron expr, got %s", got.Expr)
	}
	if !got.Enabled {
		t.Fatal("expected enabled")
	}
	if got.NextRunAt == nil {
		t.Fatal("expected next_run_at to be computed")
	}

	schedules, err := s.ListRecurring(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("expected 1, got %d", len(schedules))
	}
}

func TestRecurringStore_LockAndRelease(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sc := testSchedule("locked-run")
	if err := s.RegisterRecurring(ctx, sc); err != nil {
		t.Fatalf("register: %v", err)
	}

	worker1 := id.NewWorkerID()
	worker2 := id.NewWorkerID()
	now := time.Now().UTC()

	acquired, err := s.AcquireRecurringLock(ctx, sc.ID, worker1, 30*time.Second, now)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired")
	}

	// worker2 cannot take a held lock.
	acquired, err = s.AcquireRecurringLock(ctx, sc.ID, worker2, 30*time.Second, now)
	if err != nil {
		t.Fatalf("acquire by worker2: %v", err)
	}
	if acquired {
		t.Fatal("expected not acquired by worker2")
	}

	// worker1 can re-acquire its own lock.
	acquired, err = s.AcquireRecurringLock(ctx, sc.ID, worker1, 30*time.Second, now)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected re-acquired by worker1")
	}

	// Expired locks are stolen.
	acquired, err = s.AcquireRecurringLock(ctx, sc.ID, worker2, 30*time.Second, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquisition of expired lock")
	}

	if err := s.ReleaseRecurringLock(ctx, sc.ID, worker2); err != nil {
		t.Fatalf("release: %v", err)
	}

	acquired, err = s.AcquireRecurringLock(ctx, sc.ID, worker1, 30*time.Second, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired after release")
	}

	_, err = s.AcquireRecurringLock(ctx, id.NewRecurringID(), worker1, time.Second, now)
	if !errors.Is(err, rotor.ErrRecurringNotFound) {
		t.Fatalf("expected ErrRecurringNotFound, got: %v", err)
	}
}

func TestRecurringStore_MarkRunUpdateDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sc := testSchedule("maintained-run")
	if err := s.RegisterRecurring(ctx, sc); err != nil {
		t.Fatalf("register: %v", err)
	}

	ranAt := time.Now().UTC()
	nextRun := ranAt.Add(24 * time.Hour)
	if err := s.MarkRecurringRun(ctx, sc.ID, ranAt, nextRun); err != nil {
		t.Fatalf("mark run: %v", err)
	}

	got, err := s.GetRecurring(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastRunAt == nil || got.NextRunAt == nil {
		t.Fatalf("expected run stamps, got %+v", got)
	}
	if !got.NextRunAt.Equal(nextRun) {
		t.Fatalf("expected next run %v, got %v", nextRun, got.NextRunAt)
	}

	got.Enabled = false
	got.Items = []string{"item-a", "item-b"}
	if err := s.UpdateRecurring(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated, err := s.GetRecurring(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if updated.Enabled {
		t.Fatal("expected disabled")
	}
	if len(updated.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(updated.Items))
	}

	if err := s.DeleteRecurring(ctx, sc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetRecurring(ctx, sc.ID); !errors.Is(err, rotor.ErrRecurringNotFound) {
		t.Fatalf("expected ErrRecurringNotFound, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Archive store tests
// ──────────────────────────────────────────────────

func testArchiveRecord(tenantID string, jobID id.JobID, failedAt time.Time) *archive.Record {
	return &archive.Record{
		ID:         id.NewArchiveID(),
		EntryID:    id.NewEntryID(),
		JobID:      jobID,
		JobName:    "failed-job",
		TenantID:   tenantID,
		JobType:    account.TypeProfile,
		Payload:    "item-x",
		Reason:     "retries exhausted",
		RetryCount: 3,
		MaxRetries: 3,
		Strategy:   account.StrategyBalanced,
		FailedAt:   failedAt,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestArchiveStore_PushGetList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	jobA := id.NewJobID()
	jobB := id.NewJobID()

	recs := []*archive.Record{
		testArchiveRecord("tenant-a", jobA, now.Add(-2*time.Hour)),
		testArchiveRecord("tenant-a", jobA, now.Add(-time.Hour)),
		testArchiveRecord("tenant-b", jobB, now),
	}
	for i, rec := range recs {
		if err := s.PushArchive(ctx, rec); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	got, err := s.GetArchive(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reason != "retries exhausted" {
		t.Fatalf("expected reason, got %s", got.Reason)
	}

	all, err := s.ListArchive(ctx, archive.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	if !all[0].FailedAt.After(all[1].FailedAt) {
		t.Fatal("expected newest failure first")
	}

	byTenant, err := s.ListArchive(ctx, archive.ListOpts{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("list by tenant: %v", err)
	}
	if len(byTenant) != 2 {
		t.Fatalf("expected 2 for tenant-a, got %d", len(byTenant))
	}

	byJob, err := s.ListArchive(ctx, archive.ListOpts{JobID: jobB})
	if err != nil {
		t.Fatalf("list by job: %v", err)
	}
	if len(byJob) != 1 {
		t.Fatalf("expected 1 for job, got %d", len(byJob))
	}

	limited, err := s.ListArchive(ctx, archive.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 limited, got %d", len(limited))
	}

	_, getErr := s.GetArchive(ctx, id.NewArchiveID())
	if !errors.Is(getErr, rotor.ErrArchiveNotFound) {
		t.Fatalf("expected ErrArchiveNotFound, got: %v", getErr)
	}
}

func TestArchiveStore_ReplayPurgeCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := testArchiveRecord("tenant-a", id.NewJobID(), now.Add(-48*time.Hour))
	recent := testArchiveRecord("tenant-a", id.NewJobID(), now)
	for _, rec := range []*archive.Record{old, recent} {
		if err := s.PushArchive(ctx, rec); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	if err := s.MarkReplayed(ctx, recent.ID, now); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	got, err := s.GetArchive(ctx, recent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected replayed_at to be set")
	}

	if err := s.MarkReplayed(ctx, id.NewArchiveID(), now); !errors.Is(err, rotor.ErrArchiveNotFound) {
		t.Fatalf("expected ErrArchiveNotFound, got: %v", err)
	}

	purged, err := s.PurgeArchive(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}

	count, err := s.CountArchive(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining, got %d", count)
	}
}

// ──────────────────────────────────────────────────
// Event store tests
// ──────────────────────────────────────────────────

func TestEventStore_AppendAndListAfter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID := id.NewJobID()
	now := time.Now().UTC()

	names := []event.Name{event.JobEnqueued, event.JobStarted, event.JobCompleted}
	ids := make([]id.EventID, len(names))
	for i, name := range names {
		evt := &event.Event{
			ID:        id.NewEventID(),
			JobID:     jobID,
			TenantID:  "tenant-1",
			Name:      name,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		ids[i] = evt.ID
		if err := s.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.ListEventsByJob(ctx, jobID, id.Nil, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	if all[0].Name != event.JobEnqueued || all[2].Name != event.JobCompleted {
		t.Fatalf("expected append order, got %v then %v", all[0].Name, all[2].Name)
	}

	after, err := s.ListEventsByJob(ctx, jobID, ids[1], 0)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("expected 1 after cursor, got %d", len(after))
	}
	if after[0].Name != event.JobCompleted {
		t.Fatalf("expected job.completed, got %s", after[0].Name)
	}

	// Unknown cursor yields nothing.
	none, err := s.ListEventsByJob(ctx, jobID, id.NewEventID(), 0)
	if err != nil {
		t.Fatalf("list unknown cursor: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected 0 for unknown cursor, got %d", len(none))
	}

	limited, err := s.ListEventsByJob(ctx, jobID, id.Nil, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 limited, got %d", len(limited))
	}
}

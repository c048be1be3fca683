package recurring_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/recurring"
	"github.com/xraph/rotor/store/memory"
)

// submitRecorder is a SubmitFunc that records what it was asked to
// submit and can be told to fail.
type submitRecorder struct {
	mu    sync.Mutex
	err   error
	calls []*recurring.Schedule
	last  id.JobID
}

func (r *submitRecorder) submit(_ context.Context, sc *recurring.Schedule) (id.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return id.Nil, r.err
	}
	r.last = id.NewJobID()
	r.calls = append(r.calls, sc)
	return r.last, nil
}

func (r *submitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *submitRecorder) lastJobID() id.JobID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// firedRecorder captures EmitRecurringFired announcements.
type firedRecorder struct {
	mu     sync.Mutex
	names  []string
	jobIDs []id.JobID
}

func (r *firedRecorder) EmitRecurringFired(_ context.Context, name string, jobID id.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.jobIDs = append(r.jobIDs, jobID)
}

func (r *firedRecorder) fired() (int, string, id.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.names) == 0 {
		return 0, "", id.Nil
	}
	return len(r.names), r.names[len(r.names)-1], r.jobIDs[len(r.jobIDs)-1]
}

// registerDue persists a schedule whose next run is already in the
// past, so the first tick fires it.
func registerDue(t *testing.T, s *memory.Store, name, expr string, opts ...recurring.ScheduleOption) *recurring.Schedule {
	t.Helper()
	sc, err := recurring.New(name, "tenant-a", expr, "weekly refresh", account.TypeProfile,
		[]string{"alice", "bob"}, opts...)
	if err != nil {
		t.Fatalf("recurring.New: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	sc.NextRunAt = &past
	if err := s.RegisterRecurring(context.Background(), sc); err != nil {
		t.Fatalf("RegisterRecurring: %v", err)
	}
	return sc
}

func startScheduler(t *testing.T, s *memory.Store, submit recurring.SubmitFunc, opts ...recurring.SchedulerOption) *recurring.Scheduler {
	t.Helper()
	base := []recurring.SchedulerOption{
		recurring.WithTickInterval(10 * time.Millisecond),
	}
	sched := recurring.NewScheduler(s, submit, id.NewWorkerID(), slog.Default(),
		append(base, opts...)...)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := sched.Stop(context.Background()); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return sched
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestScheduler_FiresDueSchedule(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}
	emit := &firedRecorder{}
	sc := registerDue(t, s, "daily-sync", "@every 1h")

	startScheduler(t, s, sub.submit, recurring.WithEmitter(emit))

	waitUntil(t, func() bool { return sub.count() == 1 },
		"timed out waiting for the due schedule to fire")

	// The lock release is the last step of a firing.
	waitUntil(t, func() bool {
		got, err := s.GetRecurring(context.Background(), sc.ID)
		return err == nil && got.LockedBy.IsNil()
	}, "timed out waiting for the firing lock to be released")

	sub.mu.Lock()
	fired := sub.calls[0]
	sub.mu.Unlock()
	if fired.Name != "daily-sync" {
		t.Errorf("fired schedule = %q, want %q", fired.Name, "daily-sync")
	}
	if len(fired.Items) != 2 {
		t.Errorf("fired with %d items, want 2", len(fired.Items))
	}

	got, err := s.GetRecurring(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	if got.LastRunAt == nil || time.Since(*got.LastRunAt) > 5*time.Second {
		t.Error("expected LastRunAt to be stamped with the firing time")
	}
	if got.NextRunAt == nil {
		t.Fatal("expected NextRunAt to be recomputed")
	}
	if next := time.Until(*got.NextRunAt); next < 50*time.Minute || next > 70*time.Minute {
		t.Errorf("next run in %s, want about an hour out", next)
	}

	n, name, jobID := emit.fired()
	if n != 1 || name != "daily-sync" {
		t.Errorf("emitted %d firings for %q, want 1 for daily-sync", n, name)
	}
	if jobID != sub.lastJobID() {
		t.Errorf("emitted job ID %s, want the submitted one %s", jobID, sub.lastJobID())
	}

	// Next run is an hour out; nothing more fires.
	time.Sleep(50 * time.Millisecond)
	if sub.count() != 1 {
		t.Errorf("schedule fired %d times, want exactly 1", sub.count())
	}
}

func TestScheduler_DisabledScheduleNeverFires(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}
	registerDue(t, s, "switched-off", "@every 1h", recurring.Disabled())

	startScheduler(t, s, sub.submit)

	time.Sleep(100 * time.Millisecond)
	if sub.count() != 0 {
		t.Errorf("disabled schedule fired %d times, want 0", sub.count())
	}
}

func TestScheduler_FollowerNeverTicks(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}
	registerDue(t, s, "leader-only", "@every 1h")

	startScheduler(t, s, sub.submit,
		recurring.WithLeaderCheck(func() bool { return false }))

	time.Sleep(100 * time.Millisecond)
	if sub.count() != 0 {
		t.Errorf("follower fired %d times, want 0", sub.count())
	}
}

func TestScheduler_HeldLockSkipsFiring(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}
	sc := registerDue(t, s, "contested", "@every 1h")

	// Another instance holds the firing lock and has not finished yet.
	other := id.NewWorkerID()
	acquired, err := s.AcquireRecurringLock(context.Background(), sc.ID, other, time.Hour, time.Now().UTC())
	if err != nil || !acquired {
		t.Fatalf("pre-acquire = %v, %v", acquired, err)
	}

	startScheduler(t, s, sub.submit)

	time.Sleep(100 * time.Millisecond)
	if sub.count() != 0 {
		t.Errorf("fired %d times under a held lock, want 0", sub.count())
	}
	got, err := s.GetRecurring(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	if got.LockedBy.String() != other.String() {
		t.Error("the other instance's lock should survive")
	}
}

func TestScheduler_ExpiredLockIsStolen(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}
	sc := registerDue(t, s, "abandoned", "@every 1h")

	// A dead instance left its lock behind, long expired.
	other := id.NewWorkerID()
	staleNow := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := s.AcquireRecurringLock(context.Background(), sc.ID, other, time.Hour, staleNow); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	startScheduler(t, s, sub.submit)

	waitUntil(t, func() bool { return sub.count() == 1 },
		"timed out waiting for the expired lock to be stolen")
}

func TestScheduler_InvalidExpressionDisablesSchedule(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}

	// The expression was valid at registration and corrupted later, e.g.
	// by a bad administrative edit. It must not refire every tick forever.
	sc := registerDue(t, s, "corrupted", "@every 1h")
	stored, err := s.GetRecurring(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	stored.Expr = "not a cron"
	if err := s.UpdateRecurring(context.Background(), stored); err != nil {
		t.Fatalf("UpdateRecurring: %v", err)
	}

	startScheduler(t, s, sub.submit)

	waitUntil(t, func() bool {
		got, err := s.GetRecurring(context.Background(), sc.ID)
		return err == nil && !got.Enabled
	}, "timed out waiting for the corrupted schedule to be disabled")

	if sub.count() != 0 {
		t.Errorf("corrupted schedule submitted %d jobs, want 0", sub.count())
	}
	got, _ := s.GetRecurring(context.Background(), sc.ID)
	if !got.LockedBy.IsNil() {
		t.Error("expected the firing lock to be released after disabling")
	}
}

func TestScheduler_SubmitFailureLeavesScheduleDue(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{err: errors.New("insufficient credits")}
	sc := registerDue(t, s, "underfunded", "@every 1h")

	startScheduler(t, s, sub.submit)

	// The run is never marked, so the schedule stays due and retries on
	// subsequent ticks.
	time.Sleep(100 * time.Millisecond)
	got, err := s.GetRecurring(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("GetRecurring: %v", err)
	}
	if got.LastRunAt != nil {
		t.Error("a failed submit must not count as a run")
	}
	if !got.Due(time.Now().UTC()) {
		t.Error("schedule should still be due after a failed submit")
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s := memory.New()
	sub := &submitRecorder{}
	sched := recurring.NewScheduler(s, sub.submit, id.NewWorkerID(), slog.Default(),
		recurring.WithTickInterval(10*time.Millisecond))

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("double Start: %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}

package queue

import (
	"testing"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/id"
)

var noon = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testEntry() *Entry {
	return New(id.NewJobID(), "tenant-a", "profile", `{"url":"https://example.com/in/jane"}`, 0, 3)
}

func TestNewEntryDefaults(t *testing.T) {
	jobID := id.NewJobID()
	e := New(jobID, "tenant-a", "profile", `{"url":"x"}`, 0, 3)

	if e.ID.IsNil() {
		t.Fatal("expected entry ID to be assigned")
	}
	if e.JobID != jobID {
		t.Errorf("JobID = %s, want %s", e.JobID, jobID)
	}
	if e.Status != StatusQueued {
		t.Errorf("Status = %s, want %s", e.Status, StatusQueued)
	}
	if e.RetryCount != 0 || e.MaxRetries != 3 {
		t.Errorf("retry budget = %d/%d, want 0/3", e.RetryCount, e.MaxRetries)
	}
	if !e.AccountID.IsNil() {
		t.Error("account must not be bound before claim")
	}
}

func TestClaimable(t *testing.T) {
	future := noon.Add(10 * time.Minute)
	past := noon.Add(-10 * time.Minute)

	tests := []struct {
		name string
		mod  func(*Entry)
		want bool
	}{
		{"fresh queued", func(e *Entry) {}, true},
		{"held", func(e *Entry) { e.Held = true }, false},
		{"assigned", func(e *Entry) { e.Status = StatusAssigned }, false},
		{"processing", func(e *Entry) { e.Status = StatusProcessing }, false},
		{"completed", func(e *Entry) { e.Status = StatusCompleted }, false},
		{"not before future", func(e *Entry) { e.NotBefore = &future }, false},
		{"not before passed", func(e *Entry) { e.NotBefore = &past }, true},
		{"not before exactly now", func(e *Entry) { e.NotBefore = &noon }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEntry()
			tt.mod(e)
			if got := e.Claimable(noon); got != tt.want {
				t.Errorf("Claimable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssignAndRelease(t *testing.T) {
	e := testEntry()
	workerID := id.NewWorkerID()
	acctID := id.NewAccountID()

	e.Assign(workerID, noon)
	e.Bind(acctID)

	if e.Status != StatusAssigned {
		t.Fatalf("Status = %s, want %s", e.Status, StatusAssigned)
	}
	if e.WorkerID != workerID || e.AccountID != acctID {
		t.Fatal("expected worker and account bound after assign")
	}
	if e.AssignedAt == nil || !e.AssignedAt.Equal(noon) {
		t.Fatalf("AssignedAt = %v, want %v", e.AssignedAt, noon)
	}

	e.Release(noon.Add(time.Minute))

	if e.Status != StatusQueued {
		t.Errorf("Status after release = %s, want %s", e.Status, StatusQueued)
	}
	if !e.WorkerID.IsNil() || !e.AccountID.IsNil() {
		t.Error("release must clear worker and account bindings")
	}
	if e.AssignedAt != nil || e.StartedAt != nil {
		t.Error("release must clear assignment timestamps")
	}
	if e.RetryCount != 0 {
		t.Errorf("release consumed a retry: RetryCount = %d", e.RetryCount)
	}
}

func TestApplyFinalizeSuccess(t *testing.T) {
	e := testEntry()
	e.Assign(id.NewWorkerID(), noon)
	e.StartProcessing(noon)
	e.LastError = "previous failure"

	requeued := ApplyFinalize(e, rotor.SuccessOutcome(time.Second), "", 0, noon.Add(time.Second))

	if requeued {
		t.Fatal("success must not requeue")
	}
	if e.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", e.Status, StatusCompleted)
	}
	if e.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	if e.LastError != "" {
		t.Errorf("LastError = %q, want cleared", e.LastError)
	}
}

func TestApplyFinalizeRetriesTransient(t *testing.T) {
	e := testEntry()
	e.Assign(id.NewWorkerID(), noon)
	e.StartProcessing(noon)

	out := rotor.FailureOutcome(rotor.ClassTransient, time.Second)
	requeued := ApplyFinalize(e, out, "connection reset", 30*time.Second, noon)

	if !requeued {
		t.Fatal("transient failure with budget left must requeue")
	}
	if e.Status != StatusQueued {
		t.Errorf("Status = %s, want %s", e.Status, StatusQueued)
	}
	if e.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", e.RetryCount)
	}
	if e.NotBefore == nil || !e.NotBefore.Equal(noon.Add(30*time.Second)) {
		t.Errorf("NotBefore = %v, want %v", e.NotBefore, noon.Add(30*time.Second))
	}
	if !e.WorkerID.IsNil() || !e.AccountID.IsNil() {
		t.Error("requeue must clear worker and account bindings")
	}
	if e.LastError != "connection reset" {
		t.Errorf("LastError = %q", e.LastError)
	}
}

func TestApplyFinalizeZeroDelayLeavesNotBeforeNil(t *testing.T) {
	e := testEntry()
	e.Assign(id.NewWorkerID(), noon)

	requeued := ApplyFinalize(e, rotor.FailureOutcome(rotor.ClassTransient, 0), "timeout", 0, noon)
	if !requeued {
		t.Fatal("expected requeue")
	}
	if e.NotBefore != nil {
		t.Errorf("NotBefore = %v, want nil for zero delay", e.NotBefore)
	}
}

func TestApplyFinalizePermanentFailsImmediately(t *testing.T) {
	e := testEntry()
	e.Assign(id.NewWorkerID(), noon)

	out := rotor.FailureOutcome(rotor.ClassPermanent, time.Second)
	requeued := ApplyFinalize(e, out, "profile does not exist", 30*time.Second, noon)

	if requeued {
		t.Fatal("permanent failure must not requeue")
	}
	if e.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", e.Status, StatusFailed)
	}
	if e.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 (no retry consumed)", e.RetryCount)
	}
	if e.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
}

func TestApplyFinalizeExhaustsBudget(t *testing.T) {
	e := testEntry()
	out := rotor.FailureOutcome(rotor.ClassTransient, time.Second)

	for i := range 3 {
		e.Assign(id.NewWorkerID(), noon)
		if requeued := ApplyFinalize(e, out, "flaky", 0, noon); !requeued {
			t.Fatalf("attempt %d: expected requeue", i+1)
		}
	}

	e.Assign(id.NewWorkerID(), noon)
	if requeued := ApplyFinalize(e, out, "flaky", 0, noon); requeued {
		t.Fatal("fourth failure must exhaust the budget")
	}
	if e.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", e.Status, StatusFailed)
	}
	if e.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", e.RetryCount)
	}
}

func TestApplyFinalizeRateLimitStillRetries(t *testing.T) {
	e := testEntry()
	e.Assign(id.NewWorkerID(), noon)

	out := rotor.FailureOutcome(rotor.ClassRateLimit, time.Second)
	if requeued := ApplyFinalize(e, out, "429", time.Minute, noon); !requeued {
		t.Fatal("rate-limit failure must requeue; the account is blocked, not the entry")
	}
	if e.Status != StatusQueued {
		t.Errorf("Status = %s, want %s", e.Status, StatusQueued)
	}
}

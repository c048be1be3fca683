package mongostore

import (
	"fmt"
	"time"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/archive"
	"github.com/xraph/rotor/cluster"
	"github.com/xraph/rotor/event"
	"github.com/xraph/rotor/id"
	"github.com/xraph/rotor/job"
	"github.com/xraph/rotor/queue"
	"github.com/xraph/rotor/recurring"
)

// IDs cross the BSON boundary as strings: the TypeID text form is the
// document _id, optional references store "" for the nil ID. The version
// field on mutable documents is mongo-private — it carries the
// compare-and-swap guard and never reaches the domain structs.

// idStr renders an ID for storage. The nil ID becomes the empty string.
func idStr(v id.ID) string {
	return v.String()
}

// optID best-effort parses an optional reference. Stores write these
// fields themselves, so they parse unless the collection was edited by
// hand; a malformed value reads as unset.
func optID(s string) id.ID {
	if s == "" {
		return id.Nil
	}
	parsed, err := id.Parse(s)
	if err != nil {
		return id.Nil
	}
	return parsed
}

// ── Account model ─────────────────────────────────────────────────

type accountModel struct {
	ID                  string     `bson:"_id"`
	TenantID            string     `bson:"tenant_id"`
	Label               string     `bson:"label,omitempty"`
	Active              bool       `bson:"active"`
	ValidationState     string     `bson:"validation_state"`
	Credential          []byte     `bson:"credential,omitempty"`
	DailyLimit          int        `bson:"daily_limit"`
	RequestsToday       int        `bson:"requests_today"`
	LastRequestAt       *time.Time `bson:"last_request_at,omitempty"`
	MinDelay            int64      `bson:"min_delay"`
	ConsecutiveFailures int        `bson:"consecutive_failures"`
	CooldownUntil       *time.Time `bson:"cooldown_until,omitempty"`
	BlockedUntil        *time.Time `bson:"blocked_until,omitempty"`
	Version             int64      `bson:"version"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:                  a.ID.String(),
		TenantID:            a.TenantID,
		Label:               a.Label,
		Active:              a.Active,
		ValidationState:     string(a.ValidationState),
		Credential:          a.Credential,
		DailyLimit:          a.DailyLimit,
		RequestsToday:       a.RequestsToday,
		LastRequestAt:       a.LastRequestAt,
		MinDelay:            a.MinDelay.Nanoseconds(),
		ConsecutiveFailures: a.ConsecutiveFailures,
		CooldownUntil:       a.CooldownUntil,
		BlockedUntil:        a.BlockedUntil,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	parsedID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse account id %q: %w", m.ID, err)
	}

	return &account.Account{
		Entity:              rotor.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                  parsedID,
		TenantID:            m.TenantID,
		Label:               m.Label,
		Active:              m.Active,
		ValidationState:     account.ValidationState(m.ValidationState),
		Credential:          m.Credential,
		DailyLimit:          m.DailyLimit,
		RequestsToday:       m.RequestsToday,
		LastRequestAt:       m.LastRequestAt,
		MinDelay:            time.Duration(m.MinDelay),
		ConsecutiveFailures: m.ConsecutiveFailures,
		CooldownUntil:       m.CooldownUntil,
		BlockedUntil:        m.BlockedUntil,
	}, nil
}

// ── Usage model ───────────────────────────────────────────────────

type usageModel struct {
	ID         string    `bson:"_id"`
	AccountID  string    `bson:"account_id"`
	JobID      string    `bson:"job_id"`
	EntryID    string    `bson:"entry_id"`
	TenantID   string    `bson:"tenant_id"`
	Success    bool      `bson:"success"`
	Class      string    `bson:"class,omitempty"`
	Latency    int64     `bson:"latency"`
	RecordedAt time.Time `bson:"recorded_at"`
}

func toUsageModel(rec *account.UsageRecord) *usageModel {
	return &usageModel{
		ID:         rec.ID.String(),
		AccountID:  idStr(rec.AccountID),
		JobID:      idStr(rec.JobID),
		EntryID:    idStr(rec.EntryID),
		TenantID:   rec.TenantID,
		Success:    rec.Success,
		Class:      string(rec.Class),
		Latency:    rec.Latency.Nanoseconds(),
		RecordedAt: rec.RecordedAt,
	}
}

func fromUsageModel(m *usageModel) (*account.UsageRecord, error) {
	parsedID, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse usage id %q: %w", m.ID, err)
	}

	return &account.UsageRecord{
		ID:         parsedID,
		AccountID:  optID(m.AccountID),
		JobID:      optID(m.JobID),
		EntryID:    optID(m.EntryID),
		TenantID:   m.TenantID,
		Success:    m.Success,
		Class:      rotor.Class(m.Class),
		Latency:    time.Duration(m.Latency),
		RecordedAt: m.RecordedAt,
	}, nil
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID          string     `bson:"_id"`
	TenantID    string     `bson:"tenant_id"`
	Name        string     `bson:"name"`
	Type        string     `bson:"type"`
	Status      string     `bson:"status"`
	Items       []string   `bson:"items"`
	Total       int        `bson:"total"`
	Processed   int        `bson:"processed"`
	Successful  int        `bson:"successful"`
	Failed      int        `bson:"failed"`
	Strategy    string     `bson:"strategy"`
	MaxRetries  int        `bson:"max_retries"`
	Priority    int        `bson:"priority"`
	CreditCost  int        `bson:"credit_cost"`
	Version     int64      `bson:"version"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		TenantID:    j.TenantID,
		Name:        j.Name,
		Type:        string(j.Type),
		Status:      string(j.Status),
		Items:       j.Items,
		Total:       j.Total,
		Processed:   j.Processed,
		Successful:  j.Successful,
		Failed:      j.Failed,
		Strategy:    string(j.Strategy),
		MaxRetries:  j.MaxRetries,
		Priority:    j.Priority,
		CreditCost:  j.CreditCost,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity:      rotor.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          parsedID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		Type:        account.JobType(m.Type),
		Status:      job.Status(m.Status),
		Items:       m.Items,
		Total:       m.Total,
		Processed:   m.Processed,
		Successful:  m.Successful,
		Failed:      m.Failed,
		Strategy:    account.Strategy(m.Strategy),
		MaxRetries:  m.MaxRetries,
		Priority:    m.Priority,
		CreditCost:  m.CreditCost,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// ── Queue entry model ─────────────────────────────────────────────

type entryModel struct {
	ID          string     `bson:"_id"`
	JobID       string     `bson:"job_id"`
	TenantID    string     `bson:"tenant_id"`
	JobType     string     `bson:"job_type"`
	Payload     string     `bson:"payload"`
	AccountID   string     `bson:"account_id"`
	Status      string     `bson:"status"`
	Priority    int        `bson:"priority"`
	RetryCount  int        `bson:"retry_count"`
	MaxRetries  int        `bson:"max_retries"`
	NotBefore   *time.Time `bson:"not_before,omitempty"`
	Held        bool       `bson:"held"`
	WorkerID    string     `bson:"worker_id"`
	Version     int64      `bson:"version"`
	AssignedAt  *time.Time `bson:"assigned_at,omitempty"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	LastError   string     `bson:"last_error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toEntryModel(e *queue.Entry) *entryModel {
	return &entryModel{
		ID:          e.ID.String(),
		JobID:       idStr(e.JobID),
		TenantID:    e.TenantID,
		JobType:     string(e.JobType),
		Payload:     e.Payload,
		AccountID:   idStr(e.AccountID),
		Status:      string(e.Status),
		Priority:    e.Priority,
		RetryCount:  e.RetryCount,
		MaxRetries:  e.MaxRetries,
		NotBefore:   e.NotBefore,
		Held:        e.Held,
		WorkerID:    idStr(e.WorkerID),
		AssignedAt:  e.AssignedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		LastError:   e.LastError,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromEntryModel(m *entryModel) (*queue.Entry, error) {
	parsedID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse entry id %q: %w", m.ID, err)
	}

	return &queue.Entry{
		Entity:      rotor.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          parsedID,
		JobID:       optID(m.JobID),
		TenantID:    m.TenantID,
		JobType:     account.JobType(m.JobType),
		Payload:     m.Payload,
		AccountID:   optID(m.AccountID),
		Status:      queue.Status(m.Status),
		Priority:    m.Priority,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		NotBefore:   m.NotBefore,
		Held:        m.Held,
		WorkerID:    optID(m.WorkerID),
		AssignedAt:  m.AssignedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		LastError:   m.LastError,
	}, nil
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	ID          string            `bson:"_id"`
	Hostname    string            `bson:"hostname"`
	Concurrency int               `bson:"concurrency"`
	State       string            `bson:"state"`
	IsLeader    bool              `bson:"is_leader"`
	LeaderUntil *time.Time        `bson:"leader_until,omitempty"`
	LastSeen    time.Time         `bson:"last_seen"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		IsLeader:    w.IsLeader,
		LeaderUntil: w.LeaderUntil,
		LastSeen:    w.LastSeen,
		Metadata:    w.Metadata,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:          parsedID,
		Hostname:    m.Hostname,
		Concurrency: m.Concurrency,
		State:       cluster.State(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// leadershipModel is the singleton lease document, keyed by a fixed _id
// so the guarded upsert is the only way in.
type leadershipModel struct {
	ID         string    `bson:"_id"`
	WorkerID   string    `bson:"worker_id"`
	LeaseUntil time.Time `bson:"lease_until"`
}

// ── Archive model ─────────────────────────────────────────────────

type archiveModel struct {
	ID         string     `bson:"_id"`
	EntryID    string     `bson:"entry_id"`
	JobID      string     `bson:"job_id"`
	JobName    string     `bson:"job_name"`
	TenantID   string     `bson:"tenant_id"`
	JobType    string     `bson:"job_type"`
	Payload    string     `bson:"payload"`
	AccountID  string     `bson:"account_id"`
	Reason     string     `bson:"reason"`
	RetryCount int        `bson:"retry_count"`
	MaxRetries int        `bson:"max_retries"`
	Priority   int        `bson:"priority"`
	Strategy   string     `bson:"strategy,omitempty"`
	FailedAt   time.Time  `bson:"failed_at"`
	ReplayedAt *time.Time `bson:"replayed_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
}

func toArchiveModel(rec *archive.Record) *archiveModel {
	return &archiveModel{
		ID:         rec.ID.String(),
		EntryID:    idStr(rec.EntryID),
		JobID:      idStr(rec.JobID),
		JobName:    rec.JobName,
		TenantID:   rec.TenantID,
		JobType:    string(rec.JobType),
		Payload:    rec.Payload,
		AccountID:  idStr(rec.AccountID),
		Reason:     rec.Reason,
		RetryCount: rec.RetryCount,
		MaxRetries: rec.MaxRetries,
		Priority:   rec.Priority,
		Strategy:   string(rec.Strategy),
		FailedAt:   rec.FailedAt,
		ReplayedAt: rec.ReplayedAt,
		CreatedAt:  rec.CreatedAt,
	}
}

func fromArchiveModel(m *archiveModel) (*archive.Record, error) {
	parsedID, err := id.ParseArchiveID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse archive id %q: %w", m.ID, err)
	}

	return &archive.Record{
		ID:         parsedID,
		EntryID:    optID(m.EntryID),
		JobID:      optID(m.JobID),
		JobName:    m.JobName,
		TenantID:   m.TenantID,
		JobType:    account.JobType(m.JobType),
		Payload:    m.Payload,
		AccountID:  optID(m.AccountID),
		Reason:     m.Reason,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		Priority:   m.Priority,
		Strategy:   account.Strategy(m.Strategy),
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ── Recurring model ───────────────────────────────────────────────

type recurringModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	TenantID    string     `bson:"tenant_id"`
	Expr        string     `bson:"expr"`
	JobName     string     `bson:"job_name"`
	JobType     string     `bson:"job_type"`
	Items       []string   `bson:"items"`
	Strategy    string     `bson:"strategy"`
	Priority    int        `bson:"priority"`
	MaxRetries  int        `bson:"max_retries"`
	Enabled     bool       `bson:"enabled"`
	LastRunAt   *time.Time `bson:"last_run_at,omitempty"`
	NextRunAt   *time.Time `bson:"next_run_at,omitempty"`
	LockedBy    string     `bson:"locked_by"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toRecurringModel(sc *recurring.Schedule) *recurringModel {
	return &recurringModel{
		ID:          sc.ID.String(),
		Name:        sc.Name,
		TenantID:    sc.TenantID,
		Expr:        sc.Expr,
		JobName:     sc.JobName,
		JobType:     string(sc.JobType),
		Items:       sc.Items,
		Strategy:    string(sc.Strategy),
		Priority:    sc.Priority,
		MaxRetries:  sc.MaxRetries,
		Enabled:     sc.Enabled,
		LastRunAt:   sc.LastRunAt,
		NextRunAt:   sc.NextRunAt,
		LockedBy:    idStr(sc.LockedBy),
		LockedUntil: sc.LockedUntil,
		CreatedAt:   sc.CreatedAt,
		UpdatedAt:   sc.UpdatedAt,
	}
}

func fromRecurringModel(m *recurringModel) (*recurring.Schedule, error) {
	parsedID, err := id.ParseRecurringID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse recurring id %q: %w", m.ID, err)
	}

	return &recurring.Schedule{
		Entity:      rotor.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          parsedID,
		Name:        m.Name,
		TenantID:    m.TenantID,
		Expr:        m.Expr,
		JobName:     m.JobName,
		JobType:     account.JobType(m.JobType),
		Items:       m.Items,
		Strategy:    account.Strategy(m.Strategy),
		Priority:    m.Priority,
		MaxRetries:  m.MaxRetries,
		Enabled:     m.Enabled,
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    optID(m.LockedBy),
		LockedUntil: m.LockedUntil,
	}, nil
}

// ── Event model ───────────────────────────────────────────────────

// eventModel carries a seq allocated from the counters collection on
// append; it stands in for the SQL backends' BIGSERIAL and keeps the
// strictly-after cursor total even when created_at collides.
type eventModel struct {
	ID        string    `bson:"_id"`
	Seq       int64     `bson:"seq"`
	JobID     string    `bson:"job_id"`
	TenantID  string    `bson:"tenant_id"`
	Name      string    `bson:"name"`
	EntryID   string    `bson:"entry_id"`
	AccountID string    `bson:"account_id"`
	Detail    string    `bson:"detail,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func toEventModel(evt *event.Event, seq int64) *eventModel {
	return &eventModel{
		ID:        evt.ID.String(),
		Seq:       seq,
		JobID:     idStr(evt.JobID),
		TenantID:  evt.TenantID,
		Name:      string(evt.Name),
		EntryID:   idStr(evt.EntryID),
		AccountID: idStr(evt.AccountID),
		Detail:    evt.Detail,
		CreatedAt: evt.CreatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	parsedID, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: parse event id %q: %w", m.ID, err)
	}

	return &event.Event{
		ID:        parsedID,
		JobID:     optID(m.JobID),
		TenantID:  m.TenantID,
		Name:      event.Name(m.Name),
		EntryID:   optID(m.EntryID),
		AccountID: optID(m.AccountID),
		Detail:    m.Detail,
		CreatedAt: m.CreatedAt,
	}, nil
}

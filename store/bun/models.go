package bunstore

import (
	"time"

	"github.com/uptrace/bun"

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

// The id types implement driver.Valuer and sql.Scanner, so model fields
// carry them directly: Nil IDs store as NULL and read back as Nil without
// string round-trips in the converters.

// ── Account model ─────────────────────────────────────────────────

type accountModel struct {
	bun.BaseModel `bun:"table:rotor_accounts"`

	ID                  id.AccountID `bun:"id,pk"`
	TenantID            string       `bun:"tenant_id,notnull"`
	Label               string       `bun:"label,notnull,default:''"`
	Active              bool         `bun:"active,notnull,default:true"`
	ValidationState     string       `bun:"validation_state,notnull,default:'pending'"`
	Credential          []byte       `bun:"credential,type:bytea"`
	DailyLimit          int          `bun:"daily_limit,notnull,default:0"`
	RequestsToday       int          `bun:"requests_today,notnull,default:0"`
	LastRequestAt       *time.Time   `bun:"last_request_at"`
	MinDelay            int64        `bun:"min_delay,notnull,default:0"`
	ConsecutiveFailures int          `bun:"consecutive_failures,notnull,default:0"`
	CooldownUntil       *time.Time   `bun:"cooldown_until"`
	BlockedUntil        *time.Time   `bun:"blocked_until"`
	CreatedAt           time.Time    `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt           time.Time    `bun:"updated_at,notnull,default:current_timestamp"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:                  a.ID,
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

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		Entity: rotor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                  m.ID,
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
	}
}

// ── Usage model ───────────────────────────────────────────────────

type usageModel struct {
	bun.BaseModel `bun:"table:rotor_usage"`

	ID         id.UsageID   `bun:"id,pk"`
	AccountID  id.AccountID `bun:"account_id,notnull"`
	JobID      id.JobID     `bun:"job_id"`
	EntryID    id.EntryID   `bun:"entry_id"`
	TenantID   string       `bun:"tenant_id,notnull"`
	Success    bool         `bun:"success,notnull"`
	Class      string       `bun:"class,notnull,default:''"`
	Latency    int64        `bun:"latency,notnull,default:0"`
	RecordedAt time.Time    `bun:"recorded_at,notnull"`
}

func toUsageModel(rec *account.UsageRecord) *usageModel {
	return &usageModel{
		ID:         rec.ID,
		AccountID:  rec.AccountID,
		JobID:      rec.JobID,
		EntryID:    rec.EntryID,
		TenantID:   rec.TenantID,
		Success:    rec.Success,
		Class:      string(rec.Class),
		Latency:    rec.Latency.Nanoseconds(),
		RecordedAt: rec.RecordedAt,
	}
}

func fromUsageModel(m *usageModel) *account.UsageRecord {
	return &account.UsageRecord{
		ID:         m.ID,
		AccountID:  m.AccountID,
		JobID:      m.JobID,
		EntryID:    m.EntryID,
		TenantID:   m.TenantID,
		Success:    m.Success,
		Class:      rotor.Class(m.Class),
		Latency:    time.Duration(m.Latency),
		RecordedAt: m.RecordedAt,
	}
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:rotor_jobs"`

	ID          id.JobID   `bun:"id,pk"`
	TenantID    string     `bun:"tenant_id,notnull"`
	Name        string     `bun:"name,notnull,default:''"`
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	Items       []string   `bun:"items,array"`
	Total       int        `bun:"total,notnull,default:0"`
	Processed   int        `bun:"processed,notnull,default:0"`
	Successful  int        `bun:"successful,notnull,default:0"`
	Failed      int        `bun:"failed,notnull,default:0"`
	Strategy    string     `bun:"strategy,notnull,default:'balanced'"`
	MaxRetries  int        `bun:"max_retries,notnull,default:3"`
	Priority    int        `bun:"priority,notnull,default:0"`
	CreditCost  int        `bun:"credit_cost,notnull,default:0"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID,
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

func fromJobModel(m *jobModel) *job.Job {
	return &job.Job{
		Entity: rotor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          m.ID,
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
	}
}

// ── Entry model ───────────────────────────────────────────────────

type entryModel struct {
	bun.BaseModel `bun:"table:rotor_entries"`

	ID          id.EntryID   `bun:"id,pk"`
	JobID       id.JobID     `bun:"job_id,notnull"`
	TenantID    string       `bun:"tenant_id,notnull"`
	JobType     string       `bun:"job_type,notnull"`
	Payload     string       `bun:"payload,notnull,default:''"`
	AccountID   id.AccountID `bun:"account_id"`
	Status      string       `bun:"status,notnull,default:'queued'"`
	Priority    int          `bun:"priority,notnull,default:0"`
	RetryCount  int          `bun:"retry_count,notnull,default:0"`
	MaxRetries  int          `bun:"max_retries,notnull,default:3"`
	NotBefore   *time.Time   `bun:"not_before"`
	Held        bool         `bun:"held,notnull,default:false"`
	WorkerID    id.WorkerID  `bun:"worker_id"`
	AssignedAt  *time.Time   `bun:"assigned_at"`
	StartedAt   *time.Time   `bun:"started_at"`
	CompletedAt *time.Time   `bun:"completed_at"`
	LastError   string       `bun:"last_error,notnull,default:''"`
	CreatedAt   time.Time    `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time    `bun:"updated_at,notnull,default:current_timestamp"`
}

func toEntryModel(e *queue.Entry) *entryModel {
	return &entryModel{
		ID:          e.ID,
		JobID:       e.JobID,
		TenantID:    e.TenantID,
		JobType:     string(e.JobType),
		Payload:     e.Payload,
		AccountID:   e.AccountID,
		Status:      string(e.Status),
		Priority:    e.Priority,
		RetryCount:  e.RetryCount,
		MaxRetries:  e.MaxRetries,
		NotBefore:   e.NotBefore,
		Held:        e.Held,
		WorkerID:    e.WorkerID,
		AssignedAt:  e.AssignedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		LastError:   e.LastError,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromEntryModel(m *entryModel) *queue.Entry {
	return &queue.Entry{
		Entity: rotor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          m.ID,
		JobID:       m.JobID,
		TenantID:    m.TenantID,
		JobType:     account.JobType(m.JobType),
		Payload:     m.Payload,
		AccountID:   m.AccountID,
		Status:      queue.Status(m.Status),
		Priority:    m.Priority,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		NotBefore:   m.NotBefore,
		Held:        m.Held,
		WorkerID:    m.WorkerID,
		AssignedAt:  m.AssignedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		LastError:   m.LastError,
	}
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	bun.BaseModel `bun:"table:rotor_workers"`

	ID          id.WorkerID       `bun:"id,pk"`
	Hostname    string            `bun:"hostname,notnull,default:''"`
	Concurrency int               `bun:"concurrency,notnull,default:0"`
	State       string            `bun:"state,notnull,default:'active'"`
	IsLeader    bool              `bun:"is_leader,notnull,default:false"`
	LeaderUntil *time.Time        `bun:"leader_until"`
	LastSeen    time.Time         `bun:"last_seen,notnull"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time         `bun:"created_at,notnull,default:current_timestamp"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID,
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

func fromWorkerModel(m *workerModel) *cluster.Worker {
	return &cluster.Worker{
		ID:          m.ID,
		Hostname:    m.Hostname,
		Concurrency: m.Concurrency,
		State:       cluster.State(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}
}

// ── Archive model ─────────────────────────────────────────────────

type archiveModel struct {
	bun.BaseModel `bun:"table:rotor_archive"`

	ID         id.ArchiveID `bun:"id,pk"`
	EntryID    id.EntryID   `bun:"entry_id,notnull"`
	JobID      id.JobID     `bun:"job_id"`
	JobName    string       `bun:"job_name,notnull,default:''"`
	TenantID   string       `bun:"tenant_id,notnull"`
	JobType    string       `bun:"job_type,notnull"`
	Payload    string       `bun:"payload,notnull,default:''"`
	AccountID  id.AccountID `bun:"account_id"`
	Reason     string       `bun:"reason,notnull,default:''"`
	RetryCount int          `bun:"retry_count,notnull,default:0"`
	MaxRetries int          `bun:"max_retries,notnull,default:0"`
	Priority   int          `bun:"priority,notnull,default:0"`
	Strategy   string       `bun:"strategy,notnull,default:''"`
	FailedAt   time.Time    `bun:"failed_at,notnull"`
	ReplayedAt *time.Time   `bun:"replayed_at"`
	CreatedAt  time.Time    `bun:"created_at,notnull,default:current_timestamp"`
}

func toArchiveModel(rec *archive.Record) *archiveModel {
	return &archiveModel{
		ID:         rec.ID,
		EntryID:    rec.EntryID,
		JobID:      rec.JobID,
		JobName:    rec.JobName,
		TenantID:   rec.TenantID,
		JobType:    string(rec.JobType),
		Payload:    rec.Payload,
		AccountID:  rec.AccountID,
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

func fromArchiveModel(m *archiveModel) *archive.Record {
	return &archive.Record{
		ID:         m.ID,
		EntryID:    m.EntryID,
		JobID:      m.JobID,
		JobName:    m.JobName,
		TenantID:   m.TenantID,
		JobType:    account.JobType(m.JobType),
		Payload:    m.Payload,
		AccountID:  m.AccountID,
		Reason:     m.Reason,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		Priority:   m.Priority,
		Strategy:   account.Strategy(m.Strategy),
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// ── Recurring model ───────────────────────────────────────────────

type recurringModel struct {
	bun.BaseModel `bun:"table:rotor_recurring"`

	ID          id.RecurringID `bun:"id,pk"`
	Name        string         `bun:"name,notnull,unique"`
	TenantID    string         `bun:"tenant_id,notnull"`
	Expr        string         `bun:"expr,notnull"`
	JobName     string         `bun:"job_name,notnull,default:''"`
	JobType     string         `bun:"job_type,notnull"`
	Items       []string       `bun:"items,array"`
	Strategy    string         `bun:"strategy,notnull,default:'balanced'"`
	Priority    int            `bun:"priority,notnull,default:0"`
	MaxRetries  int            `bun:"max_retries,notnull,default:3"`
	Enabled     bool           `bun:"enabled,notnull,default:true"`
	LastRunAt   *time.Time     `bun:"last_run_at"`
	NextRunAt   *time.Time     `bun:"next_run_at"`
	LockedBy    id.WorkerID    `bun:"locked_by"`
	LockedUntil *time.Time     `bun:"locked_until"`
	CreatedAt   time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

func toRecurringModel(sc *recurring.Schedule) *recurringModel {
	return &recurringModel{
		ID:          sc.ID,
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
		LockedBy:    sc.LockedBy,
		LockedUntil: sc.LockedUntil,
		CreatedAt:   sc.CreatedAt,
		UpdatedAt:   sc.UpdatedAt,
	}
}

func fromRecurringModel(m *recurringModel) *recurring.Schedule {
	return &recurring.Schedule{
		Entity: rotor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          m.ID,
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
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
	}
}

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:rotor_events"`

	Seq       int64        `bun:"seq,pk,autoincrement"`
	ID        id.EventID   `bun:"id,notnull,unique"`
	JobID     id.JobID     `bun:"job_id,notnull"`
	TenantID  string       `bun:"tenant_id,notnull"`
	Name      string       `bun:"name,notnull"`
	EntryID   id.EntryID   `bun:"entry_id"`
	AccountID id.AccountID `bun:"account_id"`
	Detail    string       `bun:"detail,notnull,default:''"`
	CreatedAt time.Time    `bun:"created_at,notnull"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:        evt.ID,
		JobID:     evt.JobID,
		TenantID:  evt.TenantID,
		Name:      string(evt.Name),
		EntryID:   evt.EntryID,
		AccountID: evt.AccountID,
		Detail:    evt.Detail,
		CreatedAt: evt.CreatedAt,
	}
}

func fromEventModel(m *eventModel) *event.Event {
	return &event.Event{
		ID:        m.ID,
		JobID:     m.JobID,
		TenantID:  m.TenantID,
		Name:      event.Name(m.Name),
		EntryID:   m.EntryID,
		AccountID: m.AccountID,
		Detail:    m.Detail,
		CreatedAt: m.CreatedAt,
	}
}

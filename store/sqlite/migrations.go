package sqlite

// schema is the full DDL, executed on every Migrate. Each statement is
// idempotent, so there is no migration tracking table.
//
// Timestamps are INTEGER nanoseconds since the Unix epoch: retry gates,
// staleness cutoffs, and purge thresholds compare in SQL, which RFC 3339
// text cannot guarantee once trailing zeros are trimmed. Durations are
// INTEGER nanoseconds, booleans INTEGER 0/1, and string collections JSON
// text.
const schema = `
-- Accounts and the append-only usage ledger.

CREATE TABLE IF NOT EXISTS rotor_accounts (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL,
    label                TEXT NOT NULL DEFAULT '',
    active               INTEGER NOT NULL DEFAULT 1,
    validation_state     TEXT NOT NULL DEFAULT 'pending',
    credential           BLOB,
    daily_limit          INTEGER NOT NULL DEFAULT 0,
    requests_today       INTEGER NOT NULL DEFAULT 0,
    last_request_at      INTEGER,
    min_delay            INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    cooldown_until       INTEGER,
    blocked_until        INTEGER,
    created_at           INTEGER NOT NULL,
    updated_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_accounts_tenant
    ON rotor_accounts (tenant_id);

CREATE TABLE IF NOT EXISTS rotor_usage (
    id          TEXT PRIMARY KEY,
    account_id  TEXT NOT NULL,
    job_id      TEXT,
    entry_id    TEXT,
    tenant_id   TEXT NOT NULL,
    success     INTEGER NOT NULL,
    class       TEXT NOT NULL DEFAULT '',
    latency     INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_usage_account
    ON rotor_usage (account_id, recorded_at DESC);

CREATE INDEX IF NOT EXISTS idx_rotor_usage_recorded
    ON rotor_usage (recorded_at);

-- Jobs: tenant-requested units of work decomposed into queue entries.

CREATE TABLE IF NOT EXISTS rotor_jobs (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    type         TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    items        TEXT NOT NULL DEFAULT '[]',
    total        INTEGER NOT NULL DEFAULT 0,
    processed    INTEGER NOT NULL DEFAULT 0,
    successful   INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    strategy     TEXT NOT NULL DEFAULT 'balanced',
    max_retries  INTEGER NOT NULL DEFAULT 3,
    priority     INTEGER NOT NULL DEFAULT 0,
    credit_cost  INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER,
    completed_at INTEGER,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_jobs_tenant
    ON rotor_jobs (tenant_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_rotor_jobs_status
    ON rotor_jobs (status);

-- Queue entries: one row per work item, claimed in a single UPDATE.

CREATE TABLE IF NOT EXISTS rotor_entries (
    id           TEXT PRIMARY KEY,
    job_id       TEXT NOT NULL,
    tenant_id    TEXT NOT NULL,
    job_type     TEXT NOT NULL,
    payload      TEXT NOT NULL DEFAULT '',
    account_id   TEXT,
    status       TEXT NOT NULL DEFAULT 'queued',
    priority     INTEGER NOT NULL DEFAULT 0,
    retry_count  INTEGER NOT NULL DEFAULT 0,
    max_retries  INTEGER NOT NULL DEFAULT 3,
    not_before   INTEGER,
    held         INTEGER NOT NULL DEFAULT 0,
    worker_id    TEXT,
    assigned_at  INTEGER,
    started_at   INTEGER,
    completed_at INTEGER,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

-- Matches the claim order: priority first, FIFO within a priority.
CREATE INDEX IF NOT EXISTS idx_rotor_entries_claim
    ON rotor_entries (priority ASC, created_at ASC, id ASC)
    WHERE status = 'queued' AND held = 0;

CREATE INDEX IF NOT EXISTS idx_rotor_entries_job
    ON rotor_entries (job_id);

CREATE INDEX IF NOT EXISTS idx_rotor_entries_inflight
    ON rotor_entries (status)
    WHERE status IN ('assigned', 'processing');

-- Cluster coordination: worker registry and the leadership lease.

CREATE TABLE IF NOT EXISTS rotor_workers (
    id           TEXT PRIMARY KEY,
    hostname     TEXT NOT NULL DEFAULT '',
    concurrency  INTEGER NOT NULL DEFAULT 0,
    state        TEXT NOT NULL DEFAULT 'active',
    is_leader    INTEGER NOT NULL DEFAULT 0,
    leader_until INTEGER,
    last_seen    INTEGER NOT NULL,
    metadata     TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_workers_last_seen
    ON rotor_workers (last_seen)
    WHERE state <> 'dead';

-- Single-row lease backing leader election. The CHECK pins the primary
-- key to 1 so at most one lease row can ever exist; acquiring is an
-- upsert guarded by the current holder and expiry.
CREATE TABLE IF NOT EXISTS rotor_leadership (
    singleton   INTEGER PRIMARY KEY DEFAULT 1 CHECK (singleton = 1),
    worker_id   TEXT NOT NULL,
    lease_until INTEGER NOT NULL
);

-- Archive of terminally failed entries, kept for inspection and replay.

CREATE TABLE IF NOT EXISTS rotor_archive (
    id          TEXT PRIMARY KEY,
    entry_id    TEXT NOT NULL,
    job_id      TEXT,
    job_name    TEXT NOT NULL DEFAULT '',
    tenant_id   TEXT NOT NULL,
    job_type    TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT '',
    account_id  TEXT,
    reason      TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 0,
    priority    INTEGER NOT NULL DEFAULT 0,
    strategy    TEXT NOT NULL DEFAULT '',
    failed_at   INTEGER NOT NULL,
    replayed_at INTEGER,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_archive_failed
    ON rotor_archive (failed_at DESC, id DESC);

CREATE INDEX IF NOT EXISTS idx_rotor_archive_tenant
    ON rotor_archive (tenant_id, failed_at DESC);

CREATE INDEX IF NOT EXISTS idx_rotor_archive_job
    ON rotor_archive (job_id);

-- Recurring schedules: cron-fired job definitions with a firing lock.

CREATE TABLE IF NOT EXISTS rotor_recurring (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    tenant_id    TEXT NOT NULL,
    expr         TEXT NOT NULL,
    job_name     TEXT NOT NULL DEFAULT '',
    job_type     TEXT NOT NULL,
    items        TEXT NOT NULL DEFAULT '[]',
    strategy     TEXT NOT NULL DEFAULT 'balanced',
    priority     INTEGER NOT NULL DEFAULT 0,
    max_retries  INTEGER NOT NULL DEFAULT 3,
    enabled      INTEGER NOT NULL DEFAULT 1,
    last_run_at  INTEGER,
    next_run_at  INTEGER,
    locked_by    TEXT,
    locked_until INTEGER,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_recurring_due
    ON rotor_recurring (next_run_at)
    WHERE enabled = 1;

-- Per-job event feed. seq preserves append order and anchors the
-- strictly-after cursor used by watchers.

CREATE TABLE IF NOT EXISTS rotor_events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    job_id     TEXT NOT NULL,
    tenant_id  TEXT NOT NULL,
    name       TEXT NOT NULL,
    entry_id   TEXT,
    account_id TEXT,
    detail     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotor_events_job
    ON rotor_events (job_id, seq);
`

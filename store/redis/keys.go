package redis

// Redis key naming conventions for rotor data.
// All keys are prefixed with "rotor:" to avoid collisions.

const keyPrefix = "rotor:"

// ── Account keys ──

// accountKey returns the key for an account entity: rotor:account:{id}
func accountKey(id string) string { return keyPrefix + "account:" + id }

// accountIDsKey is the Set tracking all account IDs for enumeration.
const accountIDsKey = keyPrefix + "account_ids"

// tenantAccountsKey returns the Set key tracking a tenant's account IDs.
func tenantAccountsKey(tenantID string) string { return keyPrefix + "tenant_accounts:" + tenantID }

// ── Usage keys ──

// usageKey returns the key for a msgpack-encoded usage record: rotor:usage:{id}
func usageKey(id string) string { return keyPrefix + "usage:" + id }

// usageIDsKey is the Set tracking all usage record IDs for pruning.
const usageIDsKey = keyPrefix + "usage_ids"

// accountUsageKey returns the List key holding an account's usage record
// IDs in append order.
func accountUsageKey(accountID string) string { return keyPrefix + "account_usage:" + accountID }

// ── Job keys ──

// jobKey returns the key for a job entity: rotor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// tenantJobsKey returns the Set key tracking a tenant's job IDs.
func tenantJobsKey(tenantID string) string { return keyPrefix + "tenant_jobs:" + tenantID }

// ── Queue keys ──

// entryKey returns the key for a queue entry entity: rotor:entry:{id}
func entryKey(id string) string { return keyPrefix + "entry:" + id }

// entryIDsKey is the Set tracking all entry IDs for enumeration.
const entryIDsKey = keyPrefix + "entry_ids"

// jobEntriesKey returns the List key holding a job's entry IDs in enqueue order.
func jobEntriesKey(jobID string) string { return keyPrefix + "job_entries:" + jobID }

// readyKey is the Sorted Set of claimable entry IDs, scored by priority
// and enqueue time so ZPOPMIN yields the next entry to claim.
const readyKey = keyPrefix + "ready"

// delayedKey is the Sorted Set of gated entry IDs, scored by their
// not_before time. Due members are promoted to the ready set at claim time.
const delayedKey = keyPrefix + "delayed"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: rotor:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey holds the leadership lease as "workerID|leaseUntil". Expiry is
// checked against the caller's clock, not a server TTL.
const leaderKey = keyPrefix + "leader"

// ── Archive keys ──

// archiveKey returns the key for an archive record entity: rotor:archive:{id}
func archiveKey(id string) string { return keyPrefix + "archive:" + id }

// archiveIDsKey is the Set tracking all archive record IDs for enumeration.
const archiveIDsKey = keyPrefix + "archive_ids"

// ── Recurring keys ──

// recurringKey returns the key for a recurring schedule entity: rotor:recurring:{id}
func recurringKey(id string) string { return keyPrefix + "recurring:" + id }

// recurringIDsKey is the Set tracking all recurring schedule IDs for enumeration.
const recurringIDsKey = keyPrefix + "recurring_ids"

// recurringNamesKey maps schedule names to IDs for duplicate detection.
const recurringNamesKey = keyPrefix + "recurring_names"

// ── Event keys ──

// eventKey returns the key for a msgpack-encoded event: rotor:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// jobEventsKey returns the List key holding a job's event IDs in append order.
func jobEventsKey(jobID string) string { return keyPrefix + "job_events:" + jobID }

// Package runner defines the execution contract between the engine and
// user code: handlers that process one work item under the account
// session the scheduler bound to it.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/rotor"
	"github.com/xraph/rotor/account"
	"github.com/xraph/rotor/id"
)

// Session is the account context a handler executes under. The
// credential is the opaque blob stored on the selected account,
// typically session cookies or API tokens.
type Session struct {
	TenantID   string
	JobID      id.JobID
	EntryID    id.EntryID
	AccountID  id.AccountID
	Credential []byte
}

// HandlerFunc processes one raw work item. Returning nil records a
// success against the bound account; a returned error is classified
// (rate_limit, authentication, transient, permanent) to drive retry
// and escalation.
type HandlerFunc func(ctx context.Context, s Session, payload string) error

// Definition is a typed handler for one job type. T is the payload
// type; work items for this type must be JSON documents.
type Definition[T any] struct {
	// Type is the job type this handler serves.
	Type account.JobType

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, s Session, payload T) error
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](jobType account.JobType, handler func(ctx context.Context, s Session, payload T) error) *Definition[T] {
	return &Definition[T]{Type: jobType, Handler: handler}
}

// Registry maps job types to type-erased handlers. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[account.JobType]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[account.JobType]HandlerFunc)}
}

// Register installs a raw handler for a job type. Use this when work
// items are plain strings (URLs, identifiers) rather than JSON.
func (r *Registry) Register(jobType account.JobType, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// RegisterDefinition registers a typed definition. The typed handler
// is wrapped in a closure that JSON-decodes the payload into T first.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, s Session, payload string) error {
		var t T
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &t); err != nil {
				// A payload that does not parse can never succeed;
				// retrying it would only burn account budget.
				return &rotor.PermanentError{
					Reason: fmt.Sprintf("unmarshal payload for job type %q", def.Type),
					Err:    err,
				}
			}
		}
		return def.Handler(ctx, s, t)
	}
	r.Register(def.Type, handler)
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType account.JobType) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []account.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]account.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Package worker runs claimed jobs through registered handlers and reports
// their outcome back to the scheduler.
package worker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"mediaqueue/internal/domain"
)

// Result is what a handler reports for a job that did not fail.
type Result struct {
	deferred bool
	reason   string
}

// Done reports successful completion.
func Done() Result { return Result{} }

// Deferred asks the scheduler to retry later because a dependency is not
// ready yet. It does not consume the job's failure budget.
func Deferred(reason string) Result { return Result{deferred: true, reason: reason} }

func (r Result) IsDeferred() bool { return r.deferred }
func (r Result) Reason() string   { return r.reason }

// Handler executes one job. A returned error fails the attempt; wrap it
// with Permanent to skip the remaining retries.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (Result, error)
}

type HandlerFunc func(ctx context.Context, job *domain.Job) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (Result, error) {
	return f(ctx, job)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

func (r *Registry) Register(t domain.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Registry) Lookup(t domain.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists registered job types in a stable order.
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveTypes narrows the registered types to include (when non-empty) and
// removes exclude.
func ResolveTypes(registered, include, exclude []domain.JobType) []domain.JobType {
	allowed := func(t domain.JobType) bool {
		for _, x := range exclude {
			if x == t {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, in := range include {
			if in == t {
				return true
			}
		}
		return false
	}
	out := make([]domain.JobType, 0, len(registered))
	for _, t := range registered {
		if allowed(t) {
			out = append(out, t)
		}
	}
	return out
}

package domain

import (
	"context"
	"time"
)

// JobRepository is the durable job table. Every state change goes through
// Claim or Transition, both single-row atomic operations. The store is the
// only clock: schedules, heartbeats and staleness are all measured on it.
type JobRepository interface {
	// Insert adds job unless an active job with the same dedup key exists,
	// in which case the result carries that job's id and Created=false. When
	// job has a target key, active jobs of the supersede types for the same
	// target are cancelled in the same transaction. A zero ScheduledAt means
	// now; CreatedAt is always set by the store.
	Insert(ctx context.Context, job *Job, supersede []JobType) (EnqueueResult, error)
	// Claim moves the best eligible job to running under params.WorkerID.
	// It returns ErrNoJobAvailable when nothing is eligible.
	Claim(ctx context.Context, params ClaimParams) (*Job, error)
	// Transition applies t when its guard holds and returns the updated row.
	// It returns ErrTransitionRejected when the guard does not hold and
	// ErrNotFound when the row does not exist.
	Transition(ctx context.Context, t Transition) (*Job, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// ListStale returns running jobs that have not heartbeated for longer
	// than staleAfter.
	ListStale(ctx context.Context, staleAfter time.Duration, limit int) ([]Job, error)
	List(ctx context.Context, filter JobFilter) ([]Job, error)
	// Prune deletes jobs in status that finished more than olderThan ago.
	Prune(ctx context.Context, status JobStatus, olderThan time.Duration) (int64, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}

package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaqueue/internal/domain"
)

// MemoryJobRepository keeps jobs in process memory behind one mutex. It backs
// the unit tests and single-process embedding where durability is not needed.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewMemoryJobRepository(opts ...Option) *MemoryJobRepository {
	o := buildOptions(opts)
	return &MemoryJobRepository{jobs: make(map[string]*domain.Job), now: o.now}
}

func (r *MemoryJobRepository) clock() time.Time {
	return r.now().UTC()
}

func (r *MemoryJobRepository) Insert(_ context.Context, job *domain.Job, supersede []domain.JobType) (domain.EnqueueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	var res domain.EnqueueResult
	if job.TargetKey != "" && len(supersede) > 0 {
		msg := supersededError
		for _, existing := range r.jobs {
			if existing.TargetKey != job.TargetKey || !existing.Status.Active() || !containsType(supersede, existing.Type) {
				continue
			}
			domain.Transition{To: domain.JobStatusCancelled, LastError: &msg}.Apply(existing, now)
			res.Superseded++
		}
	}

	key := job.DedupKey()
	for _, existing := range r.jobs {
		if existing.Status.Active() && existing.DedupKey() == key {
			res.JobID = existing.ID
			return res, nil
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, taken := r.jobs[job.ID]; taken {
		return domain.EnqueueResult{}, fmt.Errorf("insert job: duplicate id %s", job.ID)
	}
	stored := job.Clone()
	stored.Status = domain.JobStatusQueued
	stored.Attempts = 0
	stored.DependencyAttempts = 0
	stored.Owner = ""
	stored.StartedAt = nil
	stored.FinishedAt = nil
	stored.LastHeartbeat = nil
	stored.CreatedAt = now
	if stored.ScheduledAt.IsZero() {
		stored.ScheduledAt = now
	}
	r.jobs[stored.ID] = stored
	res.JobID = stored.ID
	res.Created = true
	return res, nil
}

func (r *MemoryJobRepository) Claim(_ context.Context, params domain.ClaimParams) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	locality := localityOrDefault(params.Locality)
	var best *domain.Job
	for _, job := range r.jobs {
		if !domain.ClaimEligible(job, params, now) {
			continue
		}
		if best == nil || domain.ClaimLess(job, best, locality) {
			best = job
		}
	}
	if best == nil {
		return nil, domain.ErrNoJobAvailable
	}
	domain.ApplyClaim(best, params, now)
	return best.Clone(), nil
}

func (r *MemoryJobRepository) Transition(_ context.Context, t domain.Transition) (*domain.Job, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[t.JobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := r.clock()
	if !t.Allows(job, now) {
		return nil, domain.ErrTransitionRejected
	}
	t.Apply(job, now)
	return job.Clone(), nil
}

func (r *MemoryJobRepository) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobRepository) ListStale(_ context.Context, staleAfter time.Duration, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	var out []domain.Job
	for _, job := range r.jobs {
		if job.StaleAt(now, staleAfter) {
			out = append(out, *job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen().Before(*out[j].LastSeen())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) List(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Job
	for _, job := range r.jobs {
		switch {
		case filter.Status != "" && job.Status != filter.Status:
		case filter.Type != "" && job.Type != filter.Type:
		case filter.OwnerKey != "" && job.OwnerKey != filter.OwnerKey:
		case filter.TargetKey != "" && job.TargetKey != filter.TargetKey:
		default:
			out = append(out, *job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit := filter.NormalizedLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) Prune(_ context.Context, status domain.JobStatus, olderThan time.Duration) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: prune of non-terminal status %q", domain.ErrInvalidJob, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().Add(-olderThan)
	var n int64
	for id, job := range r.jobs {
		if job.Status == status && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryJobRepository) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.JobStatus]int, 5)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func containsType(types []domain.JobType, t domain.JobType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)

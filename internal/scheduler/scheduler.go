// Package scheduler turns producer requests and worker outcome reports into
// job state transitions. All coordination happens through the repository's
// single-row compare-and-swap; the Service holds no queue state of its own.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaqueue/internal/alert"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
)

// settleRetries bounds how often an outcome is re-evaluated when the row
// changed between the read and the compare-and-swap.
const settleRetries = 3

// Service exposes the producer and worker operations of the job queue.
type Service struct {
	repo    domain.JobRepository
	policy  Policy
	now     func() time.Time
	logger  zerolog.Logger
	alerter alert.Alerter
	metrics *infra.Metrics
}

type Option func(*Service)

// WithClock replaces the wall clock used for alert timestamps. Job
// timestamps and staleness are never taken from it: the store keeps time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger.With().Str("component", "scheduler").Logger() }
}

func WithAlerter(a alert.Alerter) Option {
	return func(s *Service) {
		if a != nil {
			s.alerter = a
		}
	}
}

func WithMetrics(m *infra.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(repo domain.JobRepository, policy Policy, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		policy:  policy,
		now:     time.Now,
		logger:  zerolog.Nop(),
		alerter: alert.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy the service was built with.
func (s *Service) Policy() Policy {
	return s.policy
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Enqueue inserts a queued job, or returns the id of the active job with the
// same dedup key.
func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (domain.EnqueueResult, error) {
	job, err := s.buildJob(req)
	if err != nil {
		s.metrics.JobEnqueued(string(req.Type), "rejected")
		return domain.EnqueueResult{}, err
	}

	var supersede []domain.JobType
	if job.TargetKey != "" {
		supersede = domain.SupersededBy(job.Type)
	}
	res, err := s.repo.Insert(ctx, job, supersede)
	if err != nil {
		return domain.EnqueueResult{}, fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	id, created := res.JobID, res.Created
	if res.Superseded > 0 {
		s.logger.Info().
			Str("target_key", job.TargetKey).
			Str("job_type", string(job.Type)).
			Int64("cancelled", res.Superseded).
			Msg("scheduler: superseded active jobs")
	}

	result := "duplicate"
	if created {
		result = "created"
	}
	s.metrics.JobEnqueued(string(job.Type), result)
	s.logger.Debug().
		Str("job_id", id).
		Str("job_type", string(job.Type)).
		Str("target_key", job.TargetKey).
		Bool("created", created).
		Msg("scheduler: enqueued")
	return res, nil
}

func (s *Service) buildJob(req domain.EnqueueRequest) (*domain.Job, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidJob, req.Type)
	}
	payload, err := domain.CanonicalPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	target := domain.NormalizeTargetKey(req.TargetKey)

	priority := s.policy.Priorities.Priority(req.Type, target)
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxAttempts := s.policy.MaxAttemptsFor(req.Type)
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 {
			return nil, fmt.Errorf("%w: max_attempts must be at least 1", domain.ErrInvalidJob)
		}
		maxAttempts = *req.MaxAttempts
	}
	// Zero lets the store schedule the job at its own now.
	var scheduled time.Time
	if req.ScheduledAt != nil && !req.ScheduledAt.IsZero() {
		scheduled = req.ScheduledAt.UTC()
	}

	return &domain.Job{
		ID:                 uuid.NewString(),
		Type:               req.Type,
		TargetKey:          target,
		OwnerKey:           strings.TrimSpace(req.OwnerKey),
		Payload:            payload,
		PayloadFingerprint: domain.Fingerprint(payload),
		Priority:           priority,
		Status:             domain.JobStatusQueued,
		MaxAttempts:        maxAttempts,
		ScheduledAt:        scheduled,
	}, nil
}

// Cancel moves a queued or running job to cancelled. It reports false when
// the job had already reached a terminal state.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := s.repo.Transition(ctx, domain.Transition{
		JobID: jobID,
		From:  []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning},
		To:    domain.JobStatusCancelled,
	})
	switch {
	case errors.Is(err, domain.ErrTransitionRejected):
		return false, nil
	case err != nil:
		return false, err
	}
	s.metrics.JobOutcome(string(job.Type), "cancelled")
	s.logger.Info().Str("job_id", jobID).Str("job_type", string(job.Type)).Msg("scheduler: cancelled")
	return true, nil
}

func (s *Service) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *Service) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	return s.repo.List(ctx, filter)
}

// Stats counts jobs per status and refreshes the status gauge.
func (s *Service) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	gauge := make(map[string]int, len(counts))
	for _, status := range domain.AllJobStatuses() {
		gauge[string(status)] = counts[status]
	}
	s.metrics.SetStatusCounts(gauge)
	return counts, nil
}

// Claim hands the best eligible job to workerID. It returns
// domain.ErrNoJobAvailable when nothing is eligible.
func (s *Service) Claim(ctx context.Context, workerID string, types []domain.JobType) (*domain.Job, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, fmt.Errorf("%w: worker id is required", domain.ErrInvalidJob)
	}
	params := domain.ClaimParams{
		WorkerID: workerID,
		Types:    types,
		Locality: s.policy.Locality,
	}
	if s.policy.ReclaimStaleOnClaim {
		params.StaleAfter = s.policy.ReaperTimeout
	}
	job, err := s.repo.Claim(ctx, params)
	if err != nil {
		return nil, err
	}
	s.metrics.JobClaimed(string(job.Type))
	s.logger.Debug().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Str("worker_id", workerID).
		Int("attempts", job.Attempts).
		Msg("scheduler: claimed")
	return job, nil
}

// Heartbeat renews workerID's ownership of a running job. A non-nil error
// wrapping domain.ErrOwnershipLost means the worker must abandon the job;
// domain.ErrJobCancelled additionally matches when it was cancelled.
func (s *Service) Heartbeat(ctx context.Context, jobID, workerID string) error {
	_, err := s.repo.Transition(ctx, domain.Transition{
		JobID: jobID,
		From:  []domain.JobStatus{domain.JobStatusRunning},
		Owner: workerID,
		Touch: true,
	})
	if errors.Is(err, domain.ErrTransitionRejected) {
		return s.ownershipError(ctx, jobID, workerID)
	}
	return err
}

// Complete marks a job owned by workerID as done.
func (s *Service) Complete(ctx context.Context, jobID, workerID string) error {
	job, err := s.repo.Transition(ctx, domain.Transition{
		JobID: jobID,
		From:  []domain.JobStatus{domain.JobStatusRunning},
		Owner: workerID,
		To:    domain.JobStatusDone,
	})
	if errors.Is(err, domain.ErrTransitionRejected) {
		return s.ownershipError(ctx, jobID, workerID)
	}
	if err != nil {
		return err
	}
	s.metrics.JobOutcome(string(job.Type), "done")
	s.logger.Info().Str("job_id", jobID).Str("job_type", string(job.Type)).Str("worker_id", workerID).Msg("scheduler: completed")
	return nil
}

// Fail records a failed execution. The job is requeued with exponential
// backoff while budget remains, otherwise it becomes failed.
func (s *Service) Fail(ctx context.Context, jobID, workerID, reason string) (*domain.Job, error) {
	job, err := s.settle(ctx, jobID, workerID, func(job *domain.Job) domain.Transition {
		msg := reason
		t := domain.Transition{AttemptsDelta: 1, LastError: &msg}
		if job.Attempts+1 < job.MaxAttempts {
			t.To = domain.JobStatusQueued
			t.Delay = s.policy.Backoff(job.Attempts)
		} else {
			t.To = domain.JobStatusFailed
		}
		return t
	})
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusFailed {
		s.terminalFailure(ctx, job)
		return job, nil
	}
	s.metrics.JobOutcome(string(job.Type), "retry")
	s.logger.Info().
		Str("job_id", jobID).
		Str("job_type", string(job.Type)).
		Int("attempts", job.Attempts).
		Time("retry_at", job.ScheduledAt).
		Str("error", reason).
		Msg("scheduler: failed, will retry")
	return job, nil
}

// FailPermanently fails a job immediately regardless of its remaining
// budget. Handlers use it for input that can never succeed.
func (s *Service) FailPermanently(ctx context.Context, jobID, workerID, reason string) (*domain.Job, error) {
	job, err := s.settle(ctx, jobID, workerID, func(*domain.Job) domain.Transition {
		msg := reason
		return domain.Transition{To: domain.JobStatusFailed, AttemptsDelta: 1, LastError: &msg}
	})
	if err != nil {
		return nil, err
	}
	s.terminalFailure(ctx, job)
	return job, nil
}

// Defer requeues a job whose dependency is not ready yet. It consumes the
// dependency budget, never the failure budget, and leaves last_error to the
// last real failure.
func (s *Service) Defer(ctx context.Context, jobID, workerID, reason string) (*domain.Job, error) {
	job, err := s.settle(ctx, jobID, workerID, func(job *domain.Job) domain.Transition {
		next := job.DependencyAttempts + 1
		if next > s.policy.DependencyMaxAttempts {
			msg := fmt.Sprintf("dependency not ready after %d deferrals: %s", job.DependencyAttempts, reason)
			return domain.Transition{To: domain.JobStatusFailed, DependencyAttemptsDelta: 1, LastError: &msg}
		}
		return domain.Transition{
			To:                      domain.JobStatusQueued,
			DependencyAttemptsDelta: 1,
			Delay:                   s.policy.DependencyDelay,
		}
	})
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusFailed {
		s.terminalFailure(ctx, job)
		return job, nil
	}
	s.metrics.JobOutcome(string(job.Type), "deferred")
	s.logger.Debug().
		Str("job_id", jobID).
		Str("job_type", string(job.Type)).
		Int("dependency_attempts", job.DependencyAttempts).
		Str("reason", reason).
		Msg("scheduler: deferred")
	if s.policy.DependencyAlertThreshold > 0 && job.DependencyAttempts > s.policy.DependencyAlertThreshold {
		s.raise(ctx, alert.KindDependencyStalled, job)
	}
	return job, nil
}

// Release hands a running job back to the queue without consuming budget.
// Workers call it when shutting down mid-job.
func (s *Service) Release(ctx context.Context, jobID, workerID string) error {
	job, err := s.repo.Transition(ctx, domain.Transition{
		JobID: jobID,
		From:  []domain.JobStatus{domain.JobStatusRunning},
		Owner: workerID,
		To:    domain.JobStatusQueued,
	})
	if errors.Is(err, domain.ErrTransitionRejected) {
		return s.ownershipError(ctx, jobID, workerID)
	}
	if err != nil {
		return err
	}
	s.metrics.JobOutcome(string(job.Type), "released")
	s.logger.Info().Str("job_id", jobID).Str("worker_id", workerID).Msg("scheduler: released")
	return nil
}

// settle applies an outcome that depends on the current row. The guard pins
// status, owner and attempts to what was read, so a concurrent reap or
// reclaim makes the swap fail instead of double-counting.
func (s *Service) settle(ctx context.Context, jobID, workerID string, build func(job *domain.Job) domain.Transition) (*domain.Job, error) {
	for i := 0; i < settleRetries; i++ {
		current, err := s.repo.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current.Status != domain.JobStatusRunning || current.Owner != workerID {
			return nil, ownershipErrorFor(current, workerID)
		}
		attempts := current.Attempts
		t := build(current)
		t.JobID = jobID
		t.From = []domain.JobStatus{domain.JobStatusRunning}
		t.Owner = workerID
		t.ExpectAttempts = &attempts

		updated, err := s.repo.Transition(ctx, t)
		if errors.Is(err, domain.ErrTransitionRejected) {
			continue
		}
		return updated, err
	}
	return nil, s.ownershipError(ctx, jobID, workerID)
}

func (s *Service) ownershipError(ctx context.Context, jobID, workerID string) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	return ownershipErrorFor(job, workerID)
}

func ownershipErrorFor(job *domain.Job, workerID string) error {
	return &domain.OwnershipError{
		JobID:    job.ID,
		WorkerID: workerID,
		Status:   job.Status,
		Owner:    job.Owner,
	}
}

func (s *Service) terminalFailure(ctx context.Context, job *domain.Job) {
	s.metrics.JobOutcome(string(job.Type), "failed")
	s.logger.Warn().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("attempts", job.Attempts).
		Str("error", job.LastError).
		Msg("scheduler: failed permanently")
	s.raise(ctx, alert.KindJobFailed, job)
}

func (s *Service) raise(ctx context.Context, kind alert.Kind, job *domain.Job) {
	ev := alert.Event{
		Kind:               kind,
		JobID:              job.ID,
		JobType:            string(job.Type),
		TargetKey:          job.TargetKey,
		OwnerKey:           job.OwnerKey,
		Attempts:           job.Attempts,
		DependencyAttempts: job.DependencyAttempts,
		Error:              job.LastError,
		At:                 s.clock(),
	}
	if err := s.alerter.Alert(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("kind", string(kind)).Msg("scheduler: alert delivery failed")
	}
}

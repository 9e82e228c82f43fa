package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

const defaultReaperBatch = 100

// ReapResult summarises one sweep.
type ReapResult struct {
	Requeued int
	Failed   int
	Skipped  int
}

// Reaper returns running jobs whose worker stopped heartbeating to the
// queue, charging one attempt for the lost execution.
type Reaper struct {
	svc      *Service
	interval time.Duration
	batch    int
	logger   zerolog.Logger
}

func NewReaper(svc *Service, interval time.Duration, batch int) *Reaper {
	if batch <= 0 {
		batch = defaultReaperBatch
	}
	if interval <= 0 {
		interval = svc.policy.HeartbeatInterval
	}
	return &Reaper{
		svc:      svc,
		interval: interval,
		batch:    batch,
		logger:   svc.logger.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("reaper: sweep failed")
		}
		if _, err := r.svc.Stats(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("reaper: refresh status gauge")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep reaps every stale job visible at the time of the call.
func (r *Reaper) Sweep(ctx context.Context) (ReapResult, error) {
	var total ReapResult
	for {
		stale, err := r.svc.repo.ListStale(ctx, r.svc.policy.ReaperTimeout, r.batch)
		if err != nil {
			return total, err
		}
		progressed := 0
		for i := range stale {
			outcome, err := r.reap(ctx, &stale[i])
			if err != nil {
				return total, err
			}
			switch outcome {
			case domain.JobStatusQueued:
				total.Requeued++
				progressed++
			case domain.JobStatusFailed:
				total.Failed++
				progressed++
			default:
				total.Skipped++
			}
		}
		if len(stale) < r.batch || progressed == 0 {
			break
		}
	}
	if total.Requeued+total.Failed > 0 {
		r.logger.Info().
			Int("requeued", total.Requeued).
			Int("failed", total.Failed).
			Int("skipped", total.Skipped).
			Msg("reaper: reclaimed stale jobs")
	}
	return total, nil
}

// reap returns the status the job moved to, or "" when another actor got
// there first. The guard re-checks staleness on the store clock, so a
// heartbeat that lands between the listing and the swap wins.
func (r *Reaper) reap(ctx context.Context, job *domain.Job) (domain.JobStatus, error) {
	attempts := job.Attempts
	msg := domain.ReclaimError
	t := domain.Transition{
		JobID:          job.ID,
		From:           []domain.JobStatus{domain.JobStatusRunning},
		Owner:          job.Owner,
		ExpectAttempts: &attempts,
		StaleAfter:     r.svc.policy.ReaperTimeout,
		AttemptsDelta:  1,
		LastError:      &msg,
	}
	if job.Attempts+1 >= job.MaxAttempts {
		t.To = domain.JobStatusFailed
	} else {
		t.To = domain.JobStatusQueued
	}

	updated, err := r.svc.repo.Transition(ctx, t)
	switch {
	case errors.Is(err, domain.ErrTransitionRejected), errors.Is(err, domain.ErrNotFound):
		r.svc.metrics.JobReaped("skipped")
		return "", nil
	case err != nil:
		return "", err
	}

	r.logger.Warn().
		Str("job_id", updated.ID).
		Str("job_type", string(updated.Type)).
		Str("worker_id", job.Owner).
		Int("attempts", updated.Attempts).
		Str("status", string(updated.Status)).
		Msg("reaper: worker heartbeat timed out")
	if updated.Status == domain.JobStatusFailed {
		r.svc.metrics.JobReaped("failed")
		r.svc.terminalFailure(ctx, updated)
	} else {
		r.svc.metrics.JobReaped("requeued")
	}
	return updated.Status, nil
}

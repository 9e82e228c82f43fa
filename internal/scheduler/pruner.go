package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

// Retention is how long finished jobs stay queryable. Zero keeps them forever.
type Retention struct {
	Done   time.Duration
	Failed time.Duration
}

// Pruner deletes terminal jobs older than their retention.
type Pruner struct {
	svc       *Service
	retention Retention
	interval  time.Duration
	logger    zerolog.Logger
}

func NewPruner(svc *Service, retention Retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		svc:       svc,
		retention: retention,
		interval:  interval,
		logger:    svc.logger.With().Str("component", "pruner").Logger(),
	}
}

func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Prune(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("pruner: prune failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Prune removes expired done, cancelled and failed jobs and returns how many
// rows went away. Cancelled jobs share the done retention.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	plan := []struct {
		status domain.JobStatus
		keep   time.Duration
	}{
		{domain.JobStatusDone, p.retention.Done},
		{domain.JobStatusCancelled, p.retention.Done},
		{domain.JobStatusFailed, p.retention.Failed},
	}
	var total int64
	for _, step := range plan {
		if step.keep <= 0 {
			continue
		}
		n, err := p.svc.repo.Prune(ctx, step.status, step.keep)
		if err != nil {
			return total, err
		}
		total += n
		if n > 0 {
			p.logger.Info().Str("status", string(step.status)).Int64("deleted", n).Msg("pruner: deleted finished jobs")
		}
	}
	return total, nil
}

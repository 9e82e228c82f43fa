package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Periodic enqueues target-less maintenance jobs (scan, clean_db,
// clustering) on cron schedules. Dedup makes overlapping API instances
// harmless: a second enqueue of an active job returns the existing id.
type Periodic struct {
	svc     *Service
	cron    *cron.Cron
	entries map[domain.JobType]cron.Schedule
	logger  zerolog.Logger
}

// NewPeriodic validates every schedule expression up front.
func NewPeriodic(svc *Service, schedules map[domain.JobType]string) (*Periodic, error) {
	p := &Periodic{
		svc:     svc,
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		entries: make(map[domain.JobType]cron.Schedule, len(schedules)),
		logger:  svc.logger.With().Str("component", "periodic").Logger(),
	}
	for t, expr := range schedules {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidJob, t)
		}
		schedule, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", t, err)
		}
		p.entries[t] = schedule
	}
	return p, nil
}

// Types lists the scheduled job types in a stable order.
func (p *Periodic) Types() []domain.JobType {
	out := make([]domain.JobType, 0, len(p.entries))
	for t := range p.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Next reports when t fires next after now.
func (p *Periodic) Next(t domain.JobType, now time.Time) (time.Time, bool) {
	schedule, ok := p.entries[t]
	if !ok {
		return time.Time{}, false
	}
	return schedule.Next(now), true
}

// Fire enqueues one job of type t.
func (p *Periodic) Fire(ctx context.Context, t domain.JobType) (domain.EnqueueResult, error) {
	res, err := p.svc.Enqueue(ctx, domain.EnqueueRequest{Type: t})
	if err != nil {
		p.logger.Error().Err(err).Str("job_type", string(t)).Msg("periodic: enqueue failed")
		return res, err
	}
	p.logger.Info().Str("job_type", string(t)).Str("job_id", res.JobID).Bool("created", res.Created).Msg("periodic: enqueued")
	return res, nil
}

// Run starts the cron loop and blocks until ctx is cancelled.
func (p *Periodic) Run(ctx context.Context) {
	if len(p.entries) == 0 {
		return
	}
	for _, t := range p.Types() {
		jobType := t
		p.cron.Schedule(p.entries[jobType], cron.FuncJob(func() {
			_, _ = p.Fire(ctx, jobType)
		}))
	}
	p.cron.Start()
	<-ctx.Done()
	<-p.cron.Stop().Done()
}

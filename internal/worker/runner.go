package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
)

// Scheduler is the part of scheduler.Service a worker talks to.
type Scheduler interface {
	Claim(ctx context.Context, workerID string, types []domain.JobType) (*domain.Job, error)
	Heartbeat(ctx context.Context, jobID, workerID string) error
	Complete(ctx context.Context, jobID, workerID string) error
	Fail(ctx context.Context, jobID, workerID, reason string) (*domain.Job, error)
	FailPermanently(ctx context.Context, jobID, workerID, reason string) (*domain.Job, error)
	Defer(ctx context.Context, jobID, workerID, reason string) (*domain.Job, error)
	Release(ctx context.Context, jobID, workerID string) error
}

const releaseTimeout = 10 * time.Second

type Options struct {
	WorkerID          string
	Concurrency       int
	PollInterval      time.Duration
	PollJitter        time.Duration
	HeartbeatInterval time.Duration
	// Types restricts claims. Empty means every registered type.
	Types []domain.JobType
	// Wake, when set, interrupts the idle sleep. The Postgres listener
	// sends the job type of every newly queued job.
	Wake    <-chan string
	Logger  zerolog.Logger
	Metrics *infra.Metrics
}

// Runner polls the scheduler for work and runs it with bounded concurrency.
type Runner struct {
	sched    Scheduler
	registry *Registry
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRunner(sched Scheduler, registry *Registry, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if len(opts.Types) == 0 {
		opts.Types = registry.Types()
	}
	return &Runner{
		sched:    sched,
		registry: registry,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "worker").Str("worker_id", opts.WorkerID).Logger(),
		now:      time.Now,
	}
}

// Run claims and executes jobs until ctx is cancelled, then waits for the
// in-flight jobs to be released.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.WorkerID == "" {
		return fmt.Errorf("worker: worker id is required")
	}
	if len(r.opts.Types) == 0 {
		return fmt.Errorf("worker: no job types to claim")
	}
	r.logger.Info().
		Int("concurrency", r.opts.Concurrency).
		Interface("types", r.opts.Types).
		Msg("worker: started")

	slots := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("worker: stopping")
			return ctx.Err()
		case slots <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-slots
			continue
		}

		job, err := r.sched.Claim(ctx, r.opts.WorkerID, r.opts.Types)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				continue
			}
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				r.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			r.idle(ctx)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			r.execute(ctx, job)
		}()
	}
}

// idle sleeps for the poll interval plus jitter, or until woken.
func (r *Runner) idle(ctx context.Context) {
	wait := r.opts.PollInterval
	if r.opts.PollJitter > 0 {
		wait += time.Duration(rand.Int64N(int64(r.opts.PollJitter)))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case jobType := <-r.opts.Wake:
		r.logger.Debug().Str("job_type", jobType).Msg("worker: woken by notification")
	}
}

func (r *Runner) execute(ctx context.Context, job *domain.Job) {
	log := r.logger.With().Str("job_id", job.ID).Str("job_type", string(job.Type)).Int("attempts", job.Attempts).Logger()
	log.Info().Msg("worker: picked job")

	handler, ok := r.registry.Lookup(job.Type)
	if !ok {
		r.report(ctx, log, job, Result{}, Permanent(fmt.Errorf("no handler registered for %s", job.Type)))
		return
	}
	if err := domain.ValidatePayload(job); err != nil {
		r.report(ctx, log, job, Result{}, Permanent(err))
		return
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	beatDone := make(chan struct{})
	go func() {
		defer close(beatDone)
		r.heartbeat(jobCtx, cancel, log, job.ID)
	}()

	started := r.now()
	res, err := handler.Handle(jobCtx, job)
	r.opts.Metrics.ObserveDuration(string(job.Type), r.now().Sub(started))
	cancel(nil)
	<-beatDone

	if cause := context.Cause(jobCtx); errors.Is(cause, domain.ErrOwnershipLost) {
		log.Warn().Err(cause).Msg("worker: abandoned job after losing ownership")
		return
	}
	if ctx.Err() == nil {
		r.report(ctx, log, job, res, err)
		return
	}
	// Shutting down. An interrupted handler gives the job back; one that
	// finished anyway still records its outcome.
	if err != nil {
		r.release(log, job)
		return
	}
	detached, stop := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer stop()
	r.report(detached, log, job, res, nil)
}

// heartbeat renews ownership until ctx ends. Losing ownership cancels the
// handler.
func (r *Runner) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, log zerolog.Logger, jobID string) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := r.sched.Heartbeat(ctx, jobID, r.opts.WorkerID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrOwnershipLost):
			cancel(err)
			return
		case ctx.Err() != nil:
			return
		default:
			log.Warn().Err(err).Msg("worker: heartbeat failed")
		}
	}
}

func (r *Runner) report(ctx context.Context, log zerolog.Logger, job *domain.Job, res Result, herr error) {
	var err error
	switch {
	case herr != nil && IsPermanent(herr):
		log.Error().Err(herr).Msg("worker: job failed permanently")
		_, err = r.sched.FailPermanently(ctx, job.ID, r.opts.WorkerID, herr.Error())
	case herr != nil:
		log.Error().Err(herr).Msg("worker: job failed")
		_, err = r.sched.Fail(ctx, job.ID, r.opts.WorkerID, herr.Error())
	case res.IsDeferred():
		log.Info().Str("reason", res.Reason()).Msg("worker: job deferred")
		_, err = r.sched.Defer(ctx, job.ID, r.opts.WorkerID, res.Reason())
	default:
		err = r.sched.Complete(ctx, job.ID, r.opts.WorkerID)
		if err == nil {
			log.Info().Msg("worker: job done")
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrOwnershipLost):
		log.Warn().Err(err).Msg("worker: outcome discarded, job no longer owned")
	default:
		log.Error().Err(err).Msg("worker: failed to record outcome")
	}
}

// release hands the job back during shutdown on a short detached deadline.
func (r *Runner) release(log zerolog.Logger, job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := r.sched.Release(ctx, job.ID, r.opts.WorkerID); err != nil && !errors.Is(err, domain.ErrOwnershipLost) {
		log.Error().Err(err).Msg("worker: release on shutdown failed")
		return
	}
	log.Info().Msg("worker: released job on shutdown")
}

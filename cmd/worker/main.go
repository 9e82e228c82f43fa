package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"mediaqueue/internal/bootstrap"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/scheduler"
	"mediaqueue/internal/worker"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stdout)

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = host + "-" + strconv.Itoa(os.Getpid())
	}
	logger = logger.With().Str("worker_id", workerID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(cfg.Worker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: invalid handler configuration")
	}
	types := worker.ResolveTypes(registry.Types(), cfg.Worker.IncludeTypes, cfg.Worker.ExcludeTypes)
	if len(types) == 0 {
		logger.Fatal().Msg("worker: no job types left to claim; set WORKER_HANDLER_<TYPE> and check WORKER_INCLUDE_TYPES/WORKER_EXCLUDE_TYPES")
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open job store")
	}
	defer store.Close()

	alerter, closeAlerts, err := bootstrap.NewAlerter(cfg.Alerts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to connect alert sinks")
	}
	defer closeAlerts()

	metrics := bootstrap.NewMetrics()
	svc := bootstrap.NewService(cfg, store, logger, metrics, alerter)

	var wg sync.WaitGroup
	spawn := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	opts := worker.Options{
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		PollJitter:        cfg.Worker.PollJitter,
		HeartbeatInterval: cfg.Scheduler.HeartbeatInterval,
		Types:             types,
		Logger:            logger,
		Metrics:           metrics,
	}
	if store.Pool != nil {
		listener := infra.NewListener(store.Pool, logger)
		opts.Wake = listener.Wake()
		spawn(func(ctx context.Context) { _ = listener.Run(ctx) })
	}
	if cfg.Worker.RunReaper {
		spawn(scheduler.NewReaper(svc, cfg.Scheduler.ReaperInterval, cfg.Scheduler.ReaperBatchSize).Run)
	}
	if cfg.MetricsAddr != "" {
		server := infra.NewHTTPServer("metrics", cfg.MetricsAddr, cfg, metrics.Handler(), logger)
		spawn(func(ctx context.Context) {
			if err := server.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("worker: metrics server failed")
			}
		})
	}

	if err := worker.NewRunner(svc, registry, opts).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		stop()
	}
	wg.Wait()
	logger.Info().Msg("worker: stopped")
}

// buildRegistry registers an exec handler for every WORKER_HANDLER_<TYPE>.
func buildRegistry(cfg infra.WorkerConfig, logger zerolog.Logger) (*worker.Registry, error) {
	registry := worker.NewRegistry()
	for jobType, command := range cfg.Handlers {
		h, err := worker.NewExecHandler(command, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(jobType, h)
		logger.Info().Str("job_type", string(jobType)).Str("command", command).Msg("worker: handler registered")
	}
	return registry, nil
}

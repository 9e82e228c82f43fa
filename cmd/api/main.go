package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mediaqueue/internal/bootstrap"
	"mediaqueue/internal/http/handlers"
	httpapi "mediaqueue/internal/http/httpapi"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/scheduler"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to open job store")
	}
	defer store.Close()

	alerter, closeAlerts, err := bootstrap.NewAlerter(cfg.Alerts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect alert sinks")
	}
	defer closeAlerts()

	metrics := bootstrap.NewMetrics()
	svc := bootstrap.NewService(cfg, store, logger, metrics, alerter)

	periodic, err := scheduler.NewPeriodic(svc, cfg.Scheduler.Schedules)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: invalid schedule")
	}
	reaper := scheduler.NewReaper(svc, cfg.Scheduler.ReaperInterval, cfg.Scheduler.ReaperBatchSize)
	pruner := scheduler.NewPruner(svc, scheduler.Retention{
		Done:   cfg.Scheduler.RetentionDone,
		Failed: cfg.Scheduler.RetentionFailed,
	}, cfg.Scheduler.PruneInterval)

	app := handlers.NewApp(svc, logger)
	app.Ping = store.Ping
	app.Metrics = metrics.Handler()
	router := httpapi.NewRouter(app, httpapi.Options{
		APIKey:          cfg.APIKey,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	})

	var wg sync.WaitGroup
	background := []func(context.Context){reaper.Run, pruner.Run, periodic.Run}
	for _, run := range background {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	server := infra.NewHTTPServer("api", ":"+cfg.Port, cfg, router, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
		stop()
	}
	wg.Wait()
	logger.Info().Msg("api: stopped")
}

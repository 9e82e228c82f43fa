// Command jobctl inspects and operates the job table from a shell.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mediaqueue/internal/bootstrap"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout, open: openSession, migrate: migrate}
	if err := c.root().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// openSession connects the scheduler the same way the api process does,
// without alert sinks.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stderr)
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{
		svc:       bootstrap.NewService(cfg, store, logger, nil, nil),
		scheduler: cfg.Scheduler,
		close:     store.Close,
	}, nil
}

func migrate(ctx context.Context) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	return bootstrap.Migrate(ctx, cfg, infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stderr))
}

type session struct {
	svc       *scheduler.Service
	scheduler infra.SchedulerConfig
	close     func()
}

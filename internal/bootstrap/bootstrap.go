// Package bootstrap wires configuration into the store, alert sinks and
// scheduler shared by cmd/api, cmd/worker and cmd/jobctl.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/alert"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/scheduler"
)

// Store is an opened job store. Pool is set only for the Postgres driver
// and feeds the NOTIFY listener.
type Store struct {
	Repo  domain.JobRepository
	Pool  *pgxpool.Pool
	Ping  func(ctx context.Context) error
	close func()
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore connects to the configured driver and applies migrations when
// AUTO_MIGRATE is on.
func OpenStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		if cfg.AutoMigrate {
			if err := infra.MigratePostgres(ctx, cfg.DatabaseURL, logger); err != nil {
				return nil, err
			}
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Store{
			Repo:  repo.NewJobRepository(infra.NewSQLRunner(pool, logger)),
			Pool:  pool,
			Ping:  pool.Ping,
			close: pool.Close,
		}, nil

	case infra.StoreDriverSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := infra.MigrateSQLite(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &Store{
			Repo:  repo.NewJobRepositorySQLite(infra.NewSQLiteRunner(db, logger)),
			Ping:  db.PingContext,
			close: func() { _ = db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Migrate applies migrations without opening a repository.
func Migrate(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) error {
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		return infra.MigratePostgres(ctx, cfg.DatabaseURL, logger)
	case infra.StoreDriverSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func(db *sql.DB) { _ = db.Close() }(db)
		return infra.MigrateSQLite(ctx, db, logger)
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// NewAlerter always logs alerts and additionally publishes to every
// configured broker. The returned close func releases broker connections.
func NewAlerter(cfg infra.AlertConfig, logger zerolog.Logger) (alert.Alerter, func(), error) {
	sinks := alert.Multi{alert.LogAlerter{Logger: logger.With().Str("component", "alert").Logger()}}
	var closers []func() error

	if cfg.AMQPURL != "" {
		a, err := alert.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp alert sink: %w", err)
		}
		sinks = append(sinks, a)
		closers = append(closers, a.Close)
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("alert: publishing to amqp")
	}
	if cfg.NATSURL != "" {
		n, err := alert.DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, fmt.Errorf("nats alert sink: %w", err)
		}
		sinks = append(sinks, n)
		closers = append(closers, n.Close)
		logger.Info().Str("subject", cfg.NATSSubject).Msg("alert: publishing to nats")
	}

	closeAll := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			logger.Warn().Err(err).Msg("alert: close sinks")
		}
	}
	return sinks, closeAll, nil
}

// NewMetrics registers the job metrics plus the Go runtime and process
// collectors on a fresh registry.
func NewMetrics() *infra.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return infra.NewMetrics(reg)
}

// NewService builds the scheduler over store with the configured policy.
func NewService(cfg *infra.Config, store *Store, logger zerolog.Logger, metrics *infra.Metrics, alerter alert.Alerter) *scheduler.Service {
	return scheduler.New(
		store.Repo,
		scheduler.PolicyFromConfig(cfg.Scheduler),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics),
		scheduler.WithAlerter(alerter),
	)
}

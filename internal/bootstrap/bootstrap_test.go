package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"mediaqueue/internal/alert"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/scheduler"
)

func sqliteConfig(t *testing.T) *infra.Config {
	t.Helper()
	return &infra.Config{
		StoreDriver: infra.StoreDriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "data", "jobs.db"),
		AutoMigrate: true,
		Scheduler:   infra.SchedulerConfig{DefaultMaxAttempts: 3},
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	store, err := OpenStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStore returned error: %v", err)
	}
	defer store.Close()

	if store.Pool != nil {
		t.Fatal("sqlite store must not expose a pgx pool")
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}

	svc := NewService(cfg, store, zerolog.Nop(), nil, nil)
	res, err := svc.Enqueue(ctx, domain.EnqueueRequest{Type: domain.JobTypeScan})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	job, err := svc.GetStatus(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want configured 3", job.MaxAttempts)
	}
}

func TestMigrateThenOpenWithoutAutoMigrate(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	if err := Migrate(ctx, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	cfg.AutoMigrate = false
	store, err := OpenStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStore returned error: %v", err)
	}
	defer store.Close()

	svc := scheduler.New(store.Repo, scheduler.DefaultPolicy())
	if _, err := svc.Stats(ctx); err != nil {
		t.Fatalf("schema missing after Migrate: %v", err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := &infra.Config{StoreDriver: "mysql"}
	if _, err := OpenStore(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if err := Migrate(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected Migrate error for unknown driver")
	}
}

func TestNewAlerterLogsOnlyWithoutBrokers(t *testing.T) {
	a, closeAll, err := NewAlerter(infra.AlertConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAlerter returned error: %v", err)
	}
	defer closeAll()

	multi, ok := a.(alert.Multi)
	if !ok || len(multi) != 1 {
		t.Fatalf("alerter = %#v, want a single log sink", a)
	}
	if _, ok := multi[0].(alert.LogAlerter); !ok {
		t.Fatalf("sink = %T, want alert.LogAlerter", multi[0])
	}
}

func TestNewMetricsServesRuntimeCollectors(t *testing.T) {
	if NewMetrics().Handler() == nil {
		t.Fatal("metrics handler is nil")
	}
}

package infra

import (
	"strings"
	"testing"
	"time"

	"mediaqueue/internal/domain"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "")
	t.Setenv("REAPER_TIMEOUT_SECONDS", "")
	t.Setenv("CLAIM_LOCALITY", "")
	t.Setenv("WORKER_INCLUDE_TYPES", "")
	t.Setenv("WORKER_EXCLUDE_TYPES", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q, want %q", cfg.StoreDriver, StoreDriverPostgres)
	}
	s := cfg.Scheduler
	if s.HeartbeatInterval != time.Minute {
		t.Fatalf("HeartbeatInterval = %s, want 1m", s.HeartbeatInterval)
	}
	if s.ReaperTimeout != 5*time.Minute {
		t.Fatalf("ReaperTimeout = %s, want 5m", s.ReaperTimeout)
	}
	if s.DefaultMaxAttempts != 5 || s.DependencyMaxAttempts != 20 {
		t.Fatalf("attempt defaults mismatch: %d / %d", s.DefaultMaxAttempts, s.DependencyMaxAttempts)
	}
	if s.Locality != domain.LocalityTargetDesc {
		t.Fatalf("Locality = %q, want target_desc", s.Locality)
	}
	if cfg.Worker.PollInterval != 3*time.Second || cfg.Worker.PollJitter != time.Second {
		t.Fatalf("poll mismatch: %s ± %s", cfg.Worker.PollInterval, cfg.Worker.PollJitter)
	}
}

func TestLoadConfigRejectsShortReaperTimeout(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "60")
	t.Setenv("REAPER_TIMEOUT_SECONDS", "120")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "REAPER_TIMEOUT_SECONDS") {
		t.Fatalf("expected reaper timeout error, got %v", err)
	}
}

func TestLoadConfigPerTypeOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MAX_ATTEMPTS_IMPORT_ALBUM_ITEM", "1")
	t.Setenv("PRIORITY_SCAN", "3")
	t.Setenv("PRIORITY_VIDEO_INGEST_THUMBNAILS", "70")
	t.Setenv("SCHEDULE_CLEAN_DB", "@daily")
	t.Setenv("WORKER_HANDLER_INGEST_METADATA", "/usr/local/bin/extract-metadata --fast")
	t.Setenv("WORKER_INCLUDE_TYPES", "ingest-metadata, SCAN")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got := cfg.Scheduler.MaxAttempts[domain.JobTypeImportAlbumItem]; got != 1 {
		t.Fatalf("MaxAttempts[import_album_item] = %d, want 1", got)
	}
	if got := cfg.Scheduler.Priorities[domain.JobTypeScan]; got != (domain.PriorityBand{Default: 3, Video: 3}) {
		t.Fatalf("Priorities[scan] = %+v", got)
	}
	if got := cfg.Scheduler.Priorities[domain.JobTypeIngestThumbnails]; got != (domain.PriorityBand{Default: 60, Video: 70}) {
		t.Fatalf("Priorities[ingest_thumbnails] = %+v", got)
	}
	if cfg.Scheduler.Schedules[domain.JobTypeCleanDB] != "@daily" {
		t.Fatalf("Schedules mismatch: %#v", cfg.Scheduler.Schedules)
	}
	if cfg.Worker.Handlers[domain.JobTypeIngestMetadata] != "/usr/local/bin/extract-metadata --fast" {
		t.Fatalf("Handlers mismatch: %#v", cfg.Worker.Handlers)
	}
	want := []domain.JobType{domain.JobTypeIngestMetadata, domain.JobTypeScan}
	if len(cfg.Worker.IncludeTypes) != len(want) {
		t.Fatalf("IncludeTypes = %#v, want %#v", cfg.Worker.IncludeTypes, want)
	}
	for i := range want {
		if cfg.Worker.IncludeTypes[i] != want[i] {
			t.Fatalf("IncludeTypes[%d] = %q, want %q", i, cfg.Worker.IncludeTypes[i], want[i])
		}
	}
}

func TestLoadConfigUnknownTypeInList(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WORKER_EXCLUDE_TYPES", "ingest_analysis,transcode")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestLoadConfigSQLiteDoesNotNeedDatabaseURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/jobs.db")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverSQLite || cfg.SQLitePath != "/tmp/jobs.db" {
		t.Fatalf("unexpected store config: %q %q", cfg.StoreDriver, cfg.SQLitePath)
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/scheduler"
)

func newTestCLI(t *testing.T) (*cli, *bytes.Buffer, *scheduler.Service) {
	t.Helper()
	svc := scheduler.New(repo.NewMemoryJobRepository(), scheduler.DefaultPolicy())
	out := &bytes.Buffer{}
	c := &cli{
		out: out,
		open: func(context.Context) (*session, error) {
			return nil, errors.New("open must not be called in tests")
		},
		migrate: func(context.Context) error { return nil },
		sess: &session{
			svc:       svc,
			scheduler: infra.SchedulerConfig{RetentionDone: time.Hour, RetentionFailed: time.Hour},
		},
	}
	return c, out, svc
}

func run(t *testing.T, c *cli, args ...string) error {
	t.Helper()
	root := c.root()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func TestEnqueueAndStatus(t *testing.T) {
	c, out, svc := newTestCLI(t)

	err := run(t, c, "enqueue", "INGEST_METADATA", "--target", "photos/a.jpg", "--owner", "lib-1", "--priority", "7")
	if err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	fields := strings.Fields(out.String())
	if len(fields) != 2 || fields[0] != "created" {
		t.Fatalf("enqueue output = %q", out.String())
	}
	id := fields[1]

	job, err := svc.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if job.Type != domain.JobTypeIngestMetadata || job.Priority != 7 || job.OwnerKey != "lib-1" {
		t.Fatalf("stored job = %+v", job)
	}

	out.Reset()
	if err := run(t, c, "enqueue", "ingest_metadata", "--target", "photos/a.jpg", "--owner", "lib-1"); err != nil {
		t.Fatalf("second enqueue returned error: %v", err)
	}
	if got := out.String(); got != "existing "+id+"\n" {
		t.Fatalf("duplicate enqueue output = %q", got)
	}

	out.Reset()
	if err := run(t, c, "status", id); err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	for _, want := range []string{id, "queued", "photos/a.jpg", "0/"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("status output missing %q:\n%s", want, out.String())
		}
	}
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown type", []string{"enqueue", "resize"}},
		{"invalid payload", []string{"enqueue", "scan", "--payload", "{"}},
		{"bad time", []string{"enqueue", "scan", "--at", "tomorrow"}},
		{"zero attempts", []string{"enqueue", "scan", "--max-attempts", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestCLI(t)
			if err := run(t, c, tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCancelListAndStats(t *testing.T) {
	c, out, svc := newTestCLI(t)
	ctx := context.Background()
	a, _ := svc.Enqueue(ctx, domain.EnqueueRequest{Type: domain.JobTypeScan})
	if _, err := svc.Enqueue(ctx, domain.EnqueueRequest{Type: domain.JobTypeCleanDB}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	if err := run(t, c, "cancel", a.JobID); err != nil {
		t.Fatalf("cancel returned error: %v", err)
	}
	if got := out.String(); got != "cancelled "+a.JobID+"\n" {
		t.Fatalf("cancel output = %q", got)
	}
	out.Reset()
	if err := run(t, c, "cancel", a.JobID); err != nil {
		t.Fatalf("second cancel returned error: %v", err)
	}
	if !strings.Contains(out.String(), "already finished") {
		t.Fatalf("second cancel output = %q", out.String())
	}

	out.Reset()
	if err := run(t, c, "list", "--status", "cancelled"); err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], a.JobID) {
		t.Fatalf("list output:\n%s", out.String())
	}

	out.Reset()
	if err := run(t, c, "stats"); err != nil {
		t.Fatalf("stats returned error: %v", err)
	}
	got := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		f := strings.Fields(line)
		got[f[0]] = f[1]
	}
	if got["queued"] != "1" || got["cancelled"] != "1" || got["running"] != "0" {
		t.Fatalf("stats = %v", got)
	}
}

func TestReapAndPrune(t *testing.T) {
	c, out, _ := newTestCLI(t)

	if err := run(t, c, "reap"); err != nil {
		t.Fatalf("reap returned error: %v", err)
	}
	if got := out.String(); got != "requeued=0 failed=0 skipped=0\n" {
		t.Fatalf("reap output = %q", got)
	}
	out.Reset()
	if err := run(t, c, "prune", "--done", "24h"); err != nil {
		t.Fatalf("prune returned error: %v", err)
	}
	if got := out.String(); got != "deleted 0 job(s)\n" {
		t.Fatalf("prune output = %q", got)
	}
}

func TestMigrateSkipsSession(t *testing.T) {
	c, out, _ := newTestCLI(t)
	c.sess = nil
	called := false
	c.migrate = func(context.Context) error { called = true; return nil }

	if err := run(t, c, "migrate"); err != nil {
		t.Fatalf("migrate returned error: %v", err)
	}
	if !called || out.String() != "migrations applied\n" {
		t.Fatalf("migrate called=%v output=%q", called, out.String())
	}
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/scheduler"
)

func newService() *scheduler.Service {
	return scheduler.New(repo.NewMemoryJobRepository(), scheduler.DefaultPolicy())
}

func enqueue(t *testing.T, svc *scheduler.Service, req domain.EnqueueRequest) string {
	t.Helper()
	res, err := svc.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	return res.JobID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(svc *scheduler.Service, id string) *domain.Job {
	job, err := svc.GetStatus(context.Background(), id)
	if err != nil {
		return &domain.Job{}
	}
	return job
}

func startRunner(t *testing.T, svc *scheduler.Service, reg *Registry, mutate func(*Options)) (context.CancelFunc, <-chan error) {
	t.Helper()
	opts := Options{
		WorkerID:          "w-test",
		Concurrency:       2,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	runner := NewRunner(svc, reg, opts)
	go func() { done <- runner.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func stopRunner(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerCompletesJobs(t *testing.T) {
	svc := newService()
	var handled atomic.Int32
	reg := NewRegistry()
	reg.Register(domain.JobTypeScan, HandlerFunc(func(context.Context, *domain.Job) (Result, error) {
		handled.Add(1)
		return Done(), nil
	}))

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueue(t, svc, domain.EnqueueRequest{
			Type:    domain.JobTypeScan,
			Payload: json.RawMessage(fmt.Sprintf(`{"subdirectory":"d%d"}`, i)),
		}))
	}

	cancel, done := startRunner(t, svc, reg, nil)
	waitFor(t, "all jobs done", func() bool {
		for _, id := range ids {
			if statusOf(svc, id).Status != domain.JobStatusDone {
				return false
			}
		}
		return true
	})
	stopRunner(t, cancel, done)

	if handled.Load() != 5 {
		t.Fatalf("handled = %d, want 5", handled.Load())
	}
}

func TestRunnerReportsOutcomes(t *testing.T) {
	svc := newService()
	reg := NewRegistry()
	reg.Register(domain.JobTypeScan, HandlerFunc(func(context.Context, *domain.Job) (Result, error) {
		return Result{}, errors.New("disk unavailable")
	}))
	reg.Register(domain.JobTypeCleanDB, HandlerFunc(func(context.Context, *domain.Job) (Result, error) {
		return Result{}, Permanent(errors.New("schema mismatch"))
	}))
	reg.Register(domain.JobTypeIngestThumbnails, HandlerFunc(func(context.Context, *domain.Job) (Result, error) {
		return Deferred("metadata pending"), nil
	}))

	failing := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeScan})
	permanent := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeCleanDB})
	deferred := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeIngestThumbnails, TargetKey: "a.jpg"})

	cancel, done := startRunner(t, svc, reg, func(o *Options) { o.Concurrency = 3 })
	waitFor(t, "outcomes recorded", func() bool {
		return statusOf(svc, failing).Attempts == 1 &&
			statusOf(svc, permanent).Status == domain.JobStatusFailed &&
			statusOf(svc, deferred).DependencyAttempts == 1
	})
	stopRunner(t, cancel, done)

	if job := statusOf(svc, failing); job.Status != domain.JobStatusQueued || job.LastError != "disk unavailable" {
		t.Fatalf("failing job = %s %q, want queued for retry", job.Status, job.LastError)
	}
	if job := statusOf(svc, permanent); job.LastError != "schema mismatch" {
		t.Fatalf("permanent failure error = %q", job.LastError)
	}
	if job := statusOf(svc, deferred); job.Status != domain.JobStatusQueued || job.Attempts != 0 {
		t.Fatalf("deferred job = %s attempts %d", job.Status, job.Attempts)
	}
}

func TestRunnerAbandonsCancelledJob(t *testing.T) {
	svc := newService()
	started := make(chan struct{})
	var cause atomic.Value
	reg := NewRegistry()
	reg.Register(domain.JobTypeClusterFaces, HandlerFunc(func(ctx context.Context, _ *domain.Job) (Result, error) {
		close(started)
		<-ctx.Done()
		cause.Store(context.Cause(ctx))
		return Result{}, ctx.Err()
	}))
	id := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeClusterFaces})

	cancel, done := startRunner(t, svc, reg, nil)
	<-started
	if ok, err := svc.Cancel(context.Background(), id); err != nil || !ok {
		t.Fatalf("Cancel = (%v, %v)", ok, err)
	}
	waitFor(t, "handler cancelled", func() bool { return cause.Load() != nil })
	stopRunner(t, cancel, done)

	if err, _ := cause.Load().(error); !errors.Is(err, domain.ErrJobCancelled) {
		t.Fatalf("handler context cause = %v, want ErrJobCancelled", err)
	}
	if job := statusOf(svc, id); job.Status != domain.JobStatusCancelled || job.Attempts != 0 {
		t.Fatalf("job = %s attempts %d, want untouched cancelled job", job.Status, job.Attempts)
	}
}

func TestRunnerReleasesOnShutdown(t *testing.T) {
	svc := newService()
	started := make(chan struct{})
	reg := NewRegistry()
	reg.Register(domain.JobTypeScan, HandlerFunc(func(ctx context.Context, _ *domain.Job) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}))
	id := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeScan})

	cancel, done := startRunner(t, svc, reg, func(o *Options) { o.HeartbeatInterval = time.Minute })
	<-started
	stopRunner(t, cancel, done)

	job := statusOf(svc, id)
	if job.Status != domain.JobStatusQueued || job.Attempts != 0 || job.Owner != "" {
		t.Fatalf("job after shutdown = %s attempts %d owner %q", job.Status, job.Attempts, job.Owner)
	}
}

func TestRunnerFailsUnhandledTypes(t *testing.T) {
	svc := newService()
	reg := NewRegistry()
	reg.Register(domain.JobTypeScan, HandlerFunc(func(context.Context, *domain.Job) (Result, error) {
		return Done(), nil
	}))
	id := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeRemove, TargetKey: "a.jpg"})

	cancel, done := startRunner(t, svc, reg, func(o *Options) {
		o.Types = []domain.JobType{domain.JobTypeScan, domain.JobTypeRemove}
	})
	waitFor(t, "unhandled job failed", func() bool { return statusOf(svc, id).Status == domain.JobStatusFailed })
	stopRunner(t, cancel, done)
}

func TestRunnerWakesOnNotification(t *testing.T) {
	svc := newService()
	reg := NewRegistry()
	reg.Register(domain.JobTypeScan, HandlerFunc(func(context.Context, *domain.Job) (Result, error) {
		return Done(), nil
	}))
	wake := make(chan string, 1)

	cancel, done := startRunner(t, svc, reg, func(o *Options) {
		o.PollInterval = time.Hour
		o.Wake = wake
	})
	// Let the runner go idle on its hour-long poll first.
	time.Sleep(20 * time.Millisecond)
	id := enqueue(t, svc, domain.EnqueueRequest{Type: domain.JobTypeScan})
	wake <- string(domain.JobTypeScan)

	waitFor(t, "job done after wake", func() bool { return statusOf(svc, id).Status == domain.JobStatusDone })
	stopRunner(t, cancel, done)
}

func TestRunnerRequiresWorkerID(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.JobTypeScan, HandlerFunc(func(context.Context, *domain.Job) (Result, error) { return Done(), nil }))
	err := NewRunner(newService(), reg, Options{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected error without worker id")
	}
}

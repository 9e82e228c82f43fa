package scheduler

import (
	"testing"
	"time"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
)

func TestPolicyBackoff(t *testing.T) {
	p := Policy{BackoffBase: 10 * time.Second, BackoffMax: time.Hour}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{3, 80 * time.Second},
		{8, 2560 * time.Second},
		{9, time.Hour},
		{200, time.Hour},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
	if got := (Policy{}).Backoff(3); got != 0 {
		t.Fatalf("Backoff without base = %s, want 0", got)
	}
}

func TestPolicyMaxAttemptsFor(t *testing.T) {
	p := Policy{
		DefaultMaxAttempts: 5,
		MaxAttempts:        map[domain.JobType]int{domain.JobTypeIngestAnalysis: 2},
	}
	if got := p.MaxAttemptsFor(domain.JobTypeIngestAnalysis); got != 2 {
		t.Fatalf("override = %d, want 2", got)
	}
	if got := p.MaxAttemptsFor(domain.JobTypeScan); got != 5 {
		t.Fatalf("default = %d, want 5", got)
	}
	if got := (Policy{}).MaxAttemptsFor(domain.JobTypeScan); got != 1 {
		t.Fatalf("empty policy = %d, want 1", got)
	}
}

func TestPolicyFromConfigCopiesOverrides(t *testing.T) {
	cfg := infra.SchedulerConfig{
		ReaperTimeout:      3 * time.Minute,
		DefaultMaxAttempts: 4,
		MaxAttempts:        map[domain.JobType]int{domain.JobTypeRemove: 9},
		Locality:           domain.LocalityNone,
	}
	p := PolicyFromConfig(cfg)
	cfg.MaxAttempts[domain.JobTypeRemove] = 1

	if p.MaxAttemptsFor(domain.JobTypeRemove) != 9 {
		t.Fatal("policy shares the config's override map")
	}
	if p.ReaperTimeout != 3*time.Minute {
		t.Fatalf("ReaperTimeout = %s", p.ReaperTimeout)
	}
	if p.Locality != domain.LocalityNone {
		t.Fatalf("Locality = %q", p.Locality)
	}
}

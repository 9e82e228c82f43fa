package scheduler

import (
	"math"
	"time"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
)

// Policy holds the retry, deferral and claim settings the Service applies.
type Policy struct {
	HeartbeatInterval        time.Duration
	ReaperTimeout            time.Duration
	DefaultMaxAttempts       int
	MaxAttempts              map[domain.JobType]int
	Priorities               domain.PriorityPolicy
	BackoffBase              time.Duration
	BackoffMax               time.Duration
	DependencyDelay          time.Duration
	DependencyMaxAttempts    int
	DependencyAlertThreshold int
	Locality                 domain.Locality
	ReclaimStaleOnClaim      bool
}

// DefaultPolicy matches the defaults of LoadConfig.
func DefaultPolicy() Policy {
	return Policy{
		HeartbeatInterval:        time.Minute,
		ReaperTimeout:            5 * time.Minute,
		DefaultMaxAttempts:       5,
		MaxAttempts:              map[domain.JobType]int{},
		Priorities:               domain.NewPriorityPolicy(nil, nil),
		BackoffBase:              10 * time.Second,
		BackoffMax:               time.Hour,
		DependencyDelay:          30 * time.Second,
		DependencyMaxAttempts:    20,
		DependencyAlertThreshold: 10,
		Locality:                 domain.LocalityTargetDesc,
		ReclaimStaleOnClaim:      true,
	}
}

// PolicyFromConfig builds a Policy from loaded configuration.
func PolicyFromConfig(cfg infra.SchedulerConfig) Policy {
	maxAttempts := make(map[domain.JobType]int, len(cfg.MaxAttempts))
	for t, n := range cfg.MaxAttempts {
		maxAttempts[t] = n
	}
	return Policy{
		HeartbeatInterval:        cfg.HeartbeatInterval,
		ReaperTimeout:            cfg.ReaperTimeout,
		DefaultMaxAttempts:       cfg.DefaultMaxAttempts,
		MaxAttempts:              maxAttempts,
		Priorities:               domain.NewPriorityPolicy(cfg.Priorities, cfg.VideoExtensions),
		BackoffBase:              cfg.BackoffBase,
		BackoffMax:               cfg.BackoffMax,
		DependencyDelay:          cfg.DependencyDelay,
		DependencyMaxAttempts:    cfg.DependencyMaxAttempts,
		DependencyAlertThreshold: cfg.DependencyAlertThreshold,
		Locality:                 cfg.Locality,
		ReclaimStaleOnClaim:      cfg.ReclaimStaleOnClaim,
	}
}

// MaxAttemptsFor returns the retry budget of new jobs of type t.
func (p Policy) MaxAttemptsFor(t domain.JobType) int {
	if n, ok := p.MaxAttempts[t]; ok && n > 0 {
		return n
	}
	if p.DefaultMaxAttempts > 0 {
		return p.DefaultMaxAttempts
	}
	return 1
}

// Backoff returns the retry delay after a failure, given the attempts
// recorded before it: base * 2^attempts, capped at BackoffMax.
func (p Policy) Backoff(attempts int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	delay := p.BackoffBase
	for i := 0; i < attempts; i++ {
		if p.BackoffMax > 0 && delay >= p.BackoffMax {
			return p.BackoffMax
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		return p.BackoffMax
	}
	return delay
}


// Package alert publishes operator-facing events about jobs that need
// attention. Alerts are best effort: a failing sink is logged and never
// changes job state.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies an alert event.
type Kind string

const (
	// KindJobFailed is raised when a job reaches the terminal failed state.
	KindJobFailed Kind = "job_failed"
	// KindDependencyStalled is raised when a job keeps deferring past the
	// alert threshold.
	KindDependencyStalled Kind = "dependency_stalled"
)

// Event is the JSON body published to external sinks.
type Event struct {
	Kind               Kind      `json:"kind"`
	JobID              string    `json:"job_id"`
	JobType            string    `json:"job_type"`
	TargetKey          string    `json:"target_key,omitempty"`
	OwnerKey           string    `json:"owner_key,omitempty"`
	Attempts           int       `json:"attempts"`
	DependencyAttempts int       `json:"dependency_attempts"`
	Error              string    `json:"error,omitempty"`
	At                 time.Time `json:"at"`
}

// Alerter delivers an event to one sink.
type Alerter interface {
	Alert(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Alert(context.Context, Event) error { return nil }

// LogAlerter writes events to the service log at warn level.
type LogAlerter struct {
	Logger zerolog.Logger
}

func (a LogAlerter) Alert(_ context.Context, ev Event) error {
	a.Logger.Warn().
		Str("kind", string(ev.Kind)).
		Str("job_id", ev.JobID).
		Str("job_type", ev.JobType).
		Str("target_key", ev.TargetKey).
		Int("attempts", ev.Attempts).
		Int("dependency_attempts", ev.DependencyAttempts).
		Str("error", ev.Error).
		Msg("alert: job needs attention")
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, ev Event) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Alert(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

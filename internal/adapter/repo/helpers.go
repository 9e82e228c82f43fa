package repo

import (
	"time"

	"mediaqueue/internal/domain"
)

// supersededError is recorded on jobs cancelled because a newer job replaces
// them.
const supersededError = "superseded by a newer job for the same target"

// Option configures the stores that keep their own clock. The Postgres store
// always uses the database clock.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock replaces the wall clock of the memory and SQLite stores.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) { o.now = now }
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// insertRetries bounds the dedup insert loop when a concurrent winner is not
// yet visible to the statement snapshot.
const insertRetries = 5

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// nullableMicros binds a duration as microseconds, or NULL when it is zero.
func nullableMicros(d time.Duration) *int64 {
	if d <= 0 {
		return nil
	}
	us := d.Microseconds()
	return &us
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// typeStrings returns nil for an empty list so the query treats it as "any".
func typeStrings(types []domain.JobType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func localityOrDefault(l domain.Locality) domain.Locality {
	if l == "" {
		return domain.LocalityTargetDesc
	}
	return l
}

package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests and tools free of registries.
type Metrics struct {
	gatherer prometheus.Gatherer

	enqueued *prometheus.CounterVec
	claimed  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	reaped   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	jobs     *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. Passing nil uses a fresh
// private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaqueue_jobs_enqueued_total",
			Help: "Enqueue calls by job type and result (created, duplicate, rejected).",
		}, []string{"type", "result"}),
		claimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaqueue_jobs_claimed_total",
			Help: "Jobs moved to running by a worker.",
		}, []string{"type"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaqueue_job_outcomes_total",
			Help: "Outcome reports by job type (done, retry, failed, deferred, released, cancelled).",
		}, []string{"type", "outcome"}),
		reaped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaqueue_jobs_reaped_total",
			Help: "Stale running jobs handled by the reaper (requeued, failed, skipped).",
		}, []string{"result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediaqueue_job_duration_seconds",
			Help:    "Wall time from claim to outcome.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"type"}),
		jobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediaqueue_jobs",
			Help: "Rows in the job table by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) JobEnqueued(jobType, result string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(jobType, result).Inc()
}

func (m *Metrics) JobClaimed(jobType string) {
	if m == nil {
		return
	}
	m.claimed.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobOutcome(jobType, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(jobType, outcome).Inc()
}

func (m *Metrics) JobReaped(result string) {
	if m == nil {
		return
	}
	m.reaped.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDuration(jobType string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.duration.WithLabelValues(jobType).Observe(d.Seconds())
}

// SetStatusCounts replaces the per-status gauge values.
func (m *Metrics) SetStatusCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.jobs.WithLabelValues(status).Set(float64(n))
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

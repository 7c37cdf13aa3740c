package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courier"

// Metrics holds the prometheus collectors of the worker. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	dispatched    *prometheus.CounterVec
	funnelSteps   *prometheus.CounterVec
	schedulerRuns *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs processed by the worker, by name and outcome.",
		}, []string{"name", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent processing a job including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"name"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_messages_total",
			Help:      "Scheduled messages handled by the dispatch pipeline, by resulting status.",
		}, []string{"status"}),
		funnelSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funnel_steps_total",
			Help:      "Funnel steps executed, by outcome.",
		}, []string{"outcome"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks, by outcome.",
		}, []string{"outcome"}),
	}

	registerer.MustRegister(m.jobs, m.jobDuration, m.dispatched, m.funnelSteps, m.schedulerRuns)

	return m
}

func (m *Metrics) ObserveJob(name, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.jobs.WithLabelValues(name, outcome).Inc()
	m.jobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) Dispatched(status string) {
	if m == nil {
		return
	}

	m.dispatched.WithLabelValues(status).Inc()
}

func (m *Metrics) FunnelStep(outcome string) {
	if m == nil {
		return
	}

	m.funnelSteps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SchedulerTick(outcome string) {
	if m == nil {
		return
	}

	m.schedulerRuns.WithLabelValues(outcome).Inc()
}

package taskmanager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	tasks    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
	runs     *prometheus.CounterVec
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revgraph_task_total",
			Help: "Tasks that reached a terminal status, by task and status.",
		}, []string{"task", "status"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revgraph_task_attempts_total",
			Help: "Attempts made by task bodies, including retries.",
		}, []string{"task"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "revgraph_task_duration_seconds",
			Help:    "Wall time of task bodies.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"task"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "revgraph_tasks_running",
			Help: "Tasks currently running.",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "revgraph_runs_total",
			Help: "Completed runs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

func (m *Metrics) taskEnded() {
	if m == nil {
		return
	}
	m.running.Dec()
}

func (m *Metrics) taskFinished(id string, status Status, attempts int, took time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(id, status.String()).Inc()
	m.attempts.WithLabelValues(id).Add(float64(attempts))
	m.duration.WithLabelValues(id).Observe(took.Seconds())
}

func (m *Metrics) taskSkipped(id string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(id, StatusSkipped.String()).Inc()
}

func (m *Metrics) runFinished(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

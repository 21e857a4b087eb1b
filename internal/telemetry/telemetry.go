package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JaimeStill/pubsync/internal/outcome"
)

const namespace = "pubsync"

// Metrics implements pipeline.Observer. It is safe for concurrent use.
type Metrics struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	bytes       prometheus.Counter
	submissions prometheus.Gauge
	abandoned   prometheus.Gauge
	lastRun     prometheus.Gauge
}

// New creates Metrics with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Completed sync actions by stage and status.",
		}, []string{"stage", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outcome_duration_seconds",
			Help:      "Time spent per sync action by stage.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes transferred to object storage.",
		}),
		submissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "submissions",
			Help:      "Distinct submissions planned in the last run.",
		}),
		abandoned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "abandoned_actions",
			Help:      "Queued actions not taken because the last run was stopped.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	m.registry.MustRegister(
		m.outcomes,
		m.durations,
		m.bytes,
		m.submissions,
		m.abandoned,
		m.lastRun,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one outcome.
func (m *Metrics) Observe(r outcome.Record) {
	m.outcomes.WithLabelValues(string(r.Stage), string(r.Status)).Inc()
	m.durations.WithLabelValues(string(r.Stage)).Observe(r.Duration.Seconds())
	if r.Status == outcome.StatusUploaded && r.Size != nil {
		m.bytes.Add(float64(*r.Size))
	}
}

// Finish records run-level gauges.
func (m *Metrics) Finish(submissions, abandoned int, at time.Time) {
	m.submissions.Set(float64(submissions))
	m.abandoned.Set(float64(abandoned))
	m.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile atomically writes the registry to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	jobsTotal   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	transitions *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deb2arch",
				Subsystem: "scheduler",
				Name:      "jobs_total",
				Help:      "Total number of conversion jobs by final state",
			},
			[]string{"state"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deb2arch",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Duration of conversion jobs in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 600},
			},
			[]string{"state"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "deb2arch",
				Subsystem: "scheduler",
				Name:      "jobs_in_flight",
				Help:      "Number of conversion jobs currently running",
			},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deb2arch",
				Subsystem: "scheduler",
				Name:      "stage_transitions_total",
				Help:      "Total number of job state transitions by entered stage",
			},
			[]string{"stage"},
		),
	}
}

func (m *metrics) recordJob(state State, seconds float64) {
	m.jobsTotal.WithLabelValues(string(state)).Inc()
	m.duration.WithLabelValues(string(state)).Observe(seconds)
}

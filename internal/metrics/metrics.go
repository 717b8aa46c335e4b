// Package metrics exposes Prometheus collectors for the dispatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "clubos"
	subsystem = "remote_actions"
)

// Metrics holds the pipeline's collectors. Create once at startup with New;
// tests use NewWith and a private registry.
type Metrics struct {
	// SubmitsTotal counts accepted submissions. Labels: action, mode.
	SubmitsTotal *prometheus.CounterVec

	// RejectsTotal counts refused submissions. Labels: reason.
	RejectsTotal *prometheus.CounterVec

	// TerminalsTotal counts jobs reaching a terminal state. Labels: state, mode.
	TerminalsTotal *prometheus.CounterVec

	// PollsTotal counts poll attempts. Labels: outcome (ok, error).
	PollsTotal *prometheus.CounterVec

	// JobDurationSeconds measures dispatch-to-terminal time. Labels: criticality.
	JobDurationSeconds *prometheus.HistogramVec
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "submits_total",
				Help:      "Accepted action submissions by action and mode",
			},
			[]string{"action", "mode"},
		),
		RejectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rejects_total",
				Help:      "Refused action submissions by reason",
			},
			[]string{"reason"},
		),
		TerminalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "terminals_total",
				Help:      "Jobs reaching a terminal state by state and mode",
			},
			[]string{"state", "mode"},
		),
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "polls_total",
				Help:      "Provider poll attempts by outcome",
			},
			[]string{"outcome"},
		),
		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Dispatch-to-terminal duration by criticality",
				Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"criticality"},
		),
	}
}

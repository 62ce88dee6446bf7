// Package metrics holds the Prometheus collectors of the constraint
// subsystem. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks evaluation and merge activity.
type Metrics struct {
	evaluations *prometheus.CounterVec   // by strategy and status
	attempts    *prometheus.HistogramVec // solver attempt latency by strategy and outcome
	merges      *prometheus.CounterVec   // by outcome
	replayed    prometheus.Counter       // constraints replayed by merges
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sketchgraph",
			Subsystem: "eval",
			Name:      "evaluations_total",
			Help:      "Group evaluations by final strategy and status",
		}, []string{"strategy", "status"}),

		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sketchgraph",
			Subsystem: "eval",
			Name:      "attempt_duration_seconds",
			Help:      "Solver attempt latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"strategy", "outcome"}),

		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sketchgraph",
			Subsystem: "merge",
			Name:      "merges_total",
			Help:      "Group merges by outcome",
		}, []string{"outcome"}),

		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sketchgraph",
			Subsystem: "merge",
			Name:      "replayed_constraints_total",
			Help:      "Constraints rebuilt in destination groups by merges",
		}),
	}
	for _, c := range []prometheus.Collector{m.evaluations, m.attempts, m.merges, m.replayed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Evaluation records the end of one group evaluation.
func (m *Metrics) Evaluation(strategy, status string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(strategy, status).Inc()
}

// Attempt records one solver attempt.
func (m *Metrics) Attempt(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(strategy, outcome).Observe(d.Seconds())
}

// Merge records one merge and the number of constraints it replayed.
func (m *Metrics) Merge(outcome string, replayed int) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(outcome).Inc()
	m.replayed.Add(float64(replayed))
}

package task

import (
	"fmt"

	"github.com/nomis52/roster/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var outcomes = []string{"success", "rejected", "error", "skipped"}

// Metrics holds the step collectors. Create it once per registry and share it
// between orchestrators with WithMetrics.
type Metrics struct {
	steps    metrics.CounterVec
	duration metrics.ObserverVec
}

// NewMetrics registers the step collectors with reg.
func NewMetrics(reg metrics.Registry) (*Metrics, error) {
	steps, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_steps_total",
		Help: "Steps executed, by kind and outcome (success, rejected, error, skipped).",
	}, []string{"kind", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}

	duration, err := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_step_duration_seconds",
		Help:    "Wall-clock duration of executed steps including pacing.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
	if err != nil {
		return nil, fmt.Errorf("creating step duration histogram: %w", err)
	}

	// Start every kind and outcome at zero so rates exist before the first step.
	for _, k := range Kinds {
		for _, outcome := range outcomes {
			steps.With(prometheus.Labels{"kind": k.String(), "outcome": outcome}).Add(0)
		}
	}

	return &Metrics{steps: steps, duration: duration}, nil
}

func (m *Metrics) record(r StepResult) {
	if m == nil {
		return
	}
	kind := r.Step.Kind().String()
	m.steps.With(prometheus.Labels{"kind": kind, "outcome": r.outcome()}).Inc()
	if r.State == StepCompleted {
		m.duration.With(prometheus.Labels{"kind": kind}).Observe(r.Duration().Seconds())
	}
}


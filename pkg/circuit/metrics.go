package circuit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the circuit's Prometheus collectors.
type Metrics struct {
	StepsCommitted   prometheus.Counter
	StepsFailed      prometheus.Counter
	StepDuration     prometheus.Histogram
	OperatorFailures *prometheus.CounterVec
	RegionIterations prometheus.Histogram
}

// NewMetrics creates the circuit metric set and registers it with reg. A nil
// registerer yields unregistered collectors, useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deltaflow",
			Subsystem: "circuit",
			Name:      "steps_committed_total",
			Help:      "Number of successfully committed circuit steps.",
		}),
		StepsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deltaflow",
			Subsystem: "circuit",
			Name:      "steps_failed_total",
			Help:      "Number of aborted circuit steps.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deltaflow",
			Subsystem: "circuit",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of circuit steps.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		OperatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltaflow",
			Subsystem: "circuit",
			Name:      "operator_failures_total",
			Help:      "Operator evaluation failures by operator id.",
		}, []string{"operator"}),
		RegionIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deltaflow",
			Subsystem: "circuit",
			Name:      "region_iterations",
			Help:      "Iterations needed by recursive regions to reach a fixed point.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.StepsCommitted, m.StepsFailed, m.StepDuration,
			m.OperatorFailures, m.RegionIterations)
	}
	return m
}

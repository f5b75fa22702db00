package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentwarden"

var (
	runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total orchestration runs, by outcome",
		},
		[]string{"outcome"},
	)

	stepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "step_failures_total",
			Help:      "Total failed orchestration steps, by step",
		},
		[]string{"step"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Time to complete one orchestration run",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func recordRun(outcome string) {
	runs.WithLabelValues(outcome).Inc()
}

func recordStepFailure(step string) {
	stepFailures.WithLabelValues(step).Inc()
}

func recordRunDuration(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

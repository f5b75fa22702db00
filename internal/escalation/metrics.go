package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentwarden"

var (
	stepsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "steps_fired_total",
			Help:      "Total escalation steps fired, by delivery outcome",
		},
		[]string{"delivered"},
	)

	remindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "reminders_sent_total",
			Help:      "Total unacknowledged incident reminders sent",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "sweep_duration_seconds",
			Help:      "Time to complete one escalation sweep",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)
)

func recordStepFired(delivered bool) {
	v := "false"
	if delivered {
		v = "true"
	}
	stepsFired.WithLabelValues(v).Inc()
}

package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentwarden"

var (
	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "created_total",
			Help:      "Total incidents created, by severity",
		},
		[]string{"severity"},
	)

	alertsAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "alerts_admitted_total",
			Help:      "Total alerts admitted, by outcome (created or deduplicated)",
		},
		[]string{"outcome"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "status_transitions_total",
			Help:      "Total lifecycle transitions, by target status",
		},
		[]string{"to"},
	)

	timeToAcknowledge = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "time_to_acknowledge_seconds",
			Help:      "Time from incident creation to acknowledgement",
			Buckets:   []float64{30, 60, 120, 300, 600, 1800, 3600, 7200, 14400},
		},
	)

	timeToResolve = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "time_to_resolve_seconds",
			Help:      "Time from incident creation to resolution",
			Buckets:   []float64{300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		},
	)
)

func recordAlertAdmitted(created bool) {
	outcome := "deduplicated"
	if created {
		outcome = "created"
	}
	alertsAdmitted.WithLabelValues(outcome).Inc()
}

func recordIncidentCreated(severity string) {
	incidentsCreated.WithLabelValues(severity).Inc()
}

func recordTransition(to string) {
	statusTransitions.WithLabelValues(to).Inc()
}

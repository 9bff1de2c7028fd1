// Package metrics holds the router's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts routing attempts by function and outcome
	// ("forwarded", "no_endpoint", "failed").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erouter",
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Total number of routed requests by outcome",
		},
		[]string{"function", "outcome"},
	)

	// ForwardDuration measures the round trip to the selected e-computer.
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "erouter",
			Subsystem: "dispatcher",
			Name:      "forward_duration_seconds",
			Help:      "Round trip to the selected endpoint in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"function"},
	)

	// EndpointSelections counts how often each endpoint was chosen.
	EndpointSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erouter",
			Subsystem: "selector",
			Name:      "selections_total",
			Help:      "Total selections per endpoint",
		},
		[]string{"function", "endpoint"},
	)

	// ForwardRate is the forwards per second observed in the last report interval.
	ForwardRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "erouter",
			Subsystem: "dispatcher",
			Name:      "forward_rate",
			Help:      "Forwards per second over the last report interval",
		},
	)

	// TasksExecuted counts tasks finished by an e-computer.
	TasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erouter",
			Subsystem: "computer",
			Name:      "tasks_total",
			Help:      "Total tasks executed by this e-computer",
		},
		[]string{"status"},
	)
)

// RecordForward records a routed request and its round trip.
func RecordForward(function, endpoint, outcome string, durationSec float64) {
	RequestsTotal.WithLabelValues(function, outcome).Inc()
	EndpointSelections.WithLabelValues(function, endpoint).Inc()
	ForwardDuration.WithLabelValues(function).Observe(durationSec)
}

// RecordNoEndpoint records a request that found no destination.
func RecordNoEndpoint(function string) {
	RequestsTotal.WithLabelValues(function, "no_endpoint").Inc()
}

// RecordForwardRate publishes the latest forwards-per-second sample.
func RecordForwardRate(perSecond float64) {
	ForwardRate.Set(perSecond)
}

// RecordTask records a task executed by an e-computer.
func RecordTask(status string) {
	TasksExecuted.WithLabelValues(status).Inc()
}

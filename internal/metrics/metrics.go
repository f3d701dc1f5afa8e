// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt roles recorded on upstream metrics.
const (
	RolePrimary  = "primary"
	RoleFallback = "fallback"
)

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// UpstreamLatency tracks the latency of single adapter invocations in seconds.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "piesta_upstream_latency_seconds",
			Help:    "Latency of single upstream provider calls in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"family", "role", "outcome"},
	)

	// UpstreamErrorsTotal counts adapter failures by classified kind.
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piesta_upstream_errors_total",
			Help: "Total number of failed upstream calls by error kind.",
		},
		[]string{"family", "kind"},
	)

	// DispatchesTotal counts completed dispatches by outcome.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piesta_dispatches_total",
			Help: "Total number of dispatches by family and outcome.",
		},
		[]string{"family", "outcome"},
	)

	// FallbacksTotal counts dispatches that reached the fallback target.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piesta_fallbacks_total",
			Help: "Total number of fallback attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// TokenUsageTotal tracks reported or estimated token units.
	TokenUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "piesta_token_usage_total",
			Help: "Total number of token units consumed.",
		},
		[]string{"family", "direction"}, // direction: "input" or "output"
	)

	// CompareTargets observes the fan-out width of compare requests.
	CompareTargets = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "piesta_compare_targets",
			Help:    "Number of distinct targets per compare request.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
	)

	// ActiveDispatches tracks the number of in-flight dispatches.
	ActiveDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "piesta_active_dispatches",
			Help: "Number of currently in-flight dispatches.",
		},
	)
)

// RecordAttempt records one adapter invocation.
func RecordAttempt(family, role string, seconds float64, errKind string) {
	outcome := OutcomeSuccess
	if errKind != "" {
		outcome = OutcomeError
		UpstreamErrorsTotal.WithLabelValues(family, errKind).Inc()
	}
	UpstreamLatency.WithLabelValues(family, role, outcome).Observe(seconds)
}

// RecordUsage adds token units for a served response.
func RecordUsage(family string, input, output int) {
	TokenUsageTotal.WithLabelValues(family, "input").Add(float64(input))
	TokenUsageTotal.WithLabelValues(family, "output").Add(float64(output))
}

// Package metrics exposes the Prometheus collectors for the decision engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure kinds shared by every external dependency (gateways, frequency
// store, webhook). Operators distinguish "provider is down" (timeout,
// connect) from "provider's contract changed" (status, decode).
const (
	KindTimeout    = "timeout"
	KindConnect    = "connect"
	KindStatus     = "status"
	KindDecode     = "decode"
	KindUnexpected = "unexpected"
)

var (
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_decisions_total",
			Help: "Final decisions by action",
		},
		[]string{"action"},
	)

	DependencyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_dependency_failures_total",
			Help: "External dependency failures by dependency and kind",
		},
		[]string{"dependency", "kind"},
	)

	FrequencyStoreFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_frequency_store_failures_total",
			Help: "Frequency store round trips that failed open",
		},
	)

	ModelFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_model_fallbacks_total",
			Help: "Model predictions replaced by the neutral 0.5 fallback",
		},
	)

	RuleEvalErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_rule_eval_errors_total",
			Help: "Extension rule evaluation errors by rule",
		},
		[]string{"rule"},
	)

	ValidationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_validation_failures_total",
			Help: "Requests rejected before the cascade ran",
		},
	)

	EscalationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_escalations_dropped_total",
			Help: "Escalation events dropped because the bus was saturated",
		},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_stage_duration_seconds",
			Help:    "Cascade stage duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"stage"},
	)
)

// Init registers all collectors with the default registry. Call once from
// main; tests increment the collectors without registering them.
func Init() {
	prometheus.MustRegister(Decisions)
	prometheus.MustRegister(DependencyFailures)
	prometheus.MustRegister(FrequencyStoreFailures)
	prometheus.MustRegister(ModelFallbacks)
	prometheus.MustRegister(RuleEvalErrors)
	prometheus.MustRegister(ValidationFailures)
	prometheus.MustRegister(EscalationsDropped)
	prometheus.MustRegister(StageDuration)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics registers the Prometheus instruments for the safety
// pipeline. Everything is registered once via promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsProcessed counts finalized turns by outcome: delivered,
	// substituted, escalated, fallback.
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "turns_processed_total",
			Help:      "Finalized conversation turns by outcome.",
		},
		[]string{"outcome"},
	)

	// DegradedTurns counts turns where some detection layer ran
	// lexical-only because of an infrastructure failure.
	DegradedTurns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "degraded_turns_total",
			Help:      "Turns processed with reduced detection capability.",
		},
	)

	// Escalations counts escalation events by severity.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "escalations_total",
			Help:      "Escalation events created, by severity.",
		},
		[]string{"severity"},
	)

	// ProviderCalls counts outbound provider calls by endpoint and result
	// (ok, timeout, error, rejected).
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "provider_calls_total",
			Help:      "Outbound provider calls by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	// BreakerState exposes the circuit breaker state per endpoint:
	// 0 closed, 1 open, 2 half-open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "intake",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider endpoint (0=closed, 1=open, 2=half-open).",
		},
		[]string{"endpoint"},
	)

	// TurnDuration observes end-to-end turn processing latency.
	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "intake",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn processing latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		},
	)
)

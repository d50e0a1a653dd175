// Package metrics provides Prometheus metrics for the saga subsystem:
// saga outcomes, leg submission latency, compensation activity, lock
// contention and conditional-order failures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the position sagas.
type Metrics struct {
	// SagaOutcomes counts terminal saga results, labelled by saga
	// ("open"|"close") and outcome (position status or "error").
	SagaOutcomes *prometheus.CounterVec
	// LegLatency observes per-leg order submission latency in seconds,
	// labelled by exchange.
	LegLatency *prometheus.HistogramVec
	// CompensationAttempts counts individual compensation order submissions.
	CompensationAttempts prometheus.Counter
	// RollbackFailures counts compensation exhaustions, each of which leaves
	// real unhedged exposure.
	RollbackFailures prometheus.Counter
	// LockConflicts counts saga starts rejected by the position lock.
	LockConflicts prometheus.Counter
	// ConditionalFailures counts failed stop-loss/take-profit setups.
	ConditionalFailures prometheus.Counter
	// OpenPositions tracks the number of positions currently open.
	OpenPositions prometheus.Gauge
	// FundingSynced counts funding payments persisted.
	FundingSynced prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry for tests.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		SagaOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_outcomes_total",
			Help: "Terminal saga results by saga type and outcome",
		}, []string{"saga", "outcome"}),
		LegLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leg_submission_seconds",
			Help:    "Per-leg order submission latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange"}),
		CompensationAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "compensation_attempts_total",
			Help: "Compensation order submissions after a one-leg failure",
		}),
		RollbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollback_failures_total",
			Help: "Compensation exhaustions leaving unhedged exposure",
		}),
		LockConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lock_conflicts_total",
			Help: "Saga starts rejected because the position lock was held",
		}),
		ConditionalFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "conditional_failures_total",
			Help: "Failed stop-loss/take-profit setups",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "open_positions",
			Help: "Positions currently in the open state",
		}),
		FundingSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "funding_payments_synced_total",
			Help: "Funding payments persisted from exchange history",
		}),
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

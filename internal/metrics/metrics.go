// Package metrics exposes the engine's Prometheus collectors. The counters
// mirror ExecutionStats for dashboards; gauges track live state (queue
// depth, breaker states, provider health).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	// Pipeline counters
	OpportunitiesReceived *prometheus.CounterVec
	OpportunitiesRejected *prometheus.CounterVec
	ExecutionsTotal       *prometheus.CounterVec
	ExecutionDuration     *prometheus.HistogramVec
	ValidationErrors      *prometheus.CounterVec

	// Queue
	QueueDepth   prometheus.Gauge
	QueuePaused  prometheus.Gauge
	QueueRejects prometheus.Counter

	// Circuit breaker
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	// Locks
	LockConflicts       prometheus.Counter
	StaleLockRecoveries prometheus.Counter

	// Simulation
	SimulationsTotal *prometheus.CounterVec
	PredictedReverts prometheus.Counter

	// Providers
	ProviderHealthy       *prometheus.GaugeVec
	ProviderReconnections *prometheus.CounterVec
	ProviderCheckFailures *prometheus.CounterVec
	GasPriceBaseline      *prometheus.GaugeVec
}

// NewMetrics creates and registers all engine metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		OpportunitiesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_opportunities_received_total",
				Help: "Opportunities consumed from the upstream stream",
			},
			[]string{"chain", "type"},
		),
		OpportunitiesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_opportunities_rejected_total",
				Help: "Opportunities rejected before execution",
			},
			[]string{"chain", "reason"}, // reason: validation, circuit, risk, quote, unprofitable, queue, duplicate
		),
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_executions_total",
				Help: "Terminal execution outcomes",
			},
			[]string{"chain", "status"}, // status: success, skipped, failed, timeout
		),
		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_execution_duration_seconds",
				Help:    "Wall time of one execution attempt through the full pipeline",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"chain"},
		),
		ValidationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_validation_errors_total",
				Help: "Flash-loan request validation failures by code",
			},
			[]string{"chain", "code"},
		),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_queue_depth",
			Help: "Current opportunity queue size",
		}),
		QueuePaused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_queue_paused",
			Help: "1 when the queue is paused (backpressure or standby)",
		}),
		QueueRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_queue_rejects_total",
			Help: "Enqueues refused by a full or paused queue",
		}),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_breaker_state",
				Help: "Circuit-breaker state per chain (0=closed, 1=open, 2=half-open)",
			},
			[]string{"chain"},
		),
		BreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_breaker_trips_total",
				Help: "Circuit-breaker transitions into OPEN",
			},
			[]string{"chain"},
		),

		LockConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_lock_conflicts_total",
			Help: "Execution-lock acquisition conflicts",
		}),
		StaleLockRecoveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_stale_lock_recoveries_total",
			Help: "Crash-orphaned locks forcibly recovered",
		}),

		SimulationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_simulations_total",
				Help: "Revert-prediction simulations by outcome",
			},
			[]string{"chain", "outcome"}, // outcome: ok, revert, error, skipped
		),
		PredictedReverts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_predicted_reverts_total",
			Help: "Executions abandoned on a predicted revert",
		}),

		ProviderHealthy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_provider_healthy",
				Help: "1 when the chain's RPC endpoint is healthy",
			},
			[]string{"chain"},
		),
		ProviderReconnections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_provider_reconnections_total",
				Help: "RPC clients rebuilt after repeated health-check failures",
			},
			[]string{"chain"},
		),
		ProviderCheckFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_provider_check_failures_total",
				Help: "Failed RPC health checks",
			},
			[]string{"chain"},
		),
		GasPriceBaseline: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_gas_price_baseline_wei",
				Help: "Rolling average gas price per chain",
			},
			[]string{"chain"},
		),
	}
}

// Package stats holds the shared execution counters. The struct is written
// from multiple goroutines; every field is an atomic increment, so readers
// get per-field consistency but no cross-field snapshot guarantee. That is
// acceptable: the counters exist for monitoring, not accounting.
package stats

import "sync/atomic"

// ExecutionStats is a fixed set of monotonically increasing counters, one
// per decision path in the pipeline. Counters never decrease within a
// process lifetime.
type ExecutionStats struct {
	OpportunitiesReceived atomic.Int64
	OpportunitiesRejected atomic.Int64
	ExecutionAttempts     atomic.Int64
	SuccessfulExecutions  atomic.Int64
	FailedExecutions      atomic.Int64
	ExecutionTimeouts     atomic.Int64
	QueueRejects          atomic.Int64
	LockConflicts         atomic.Int64
	StaleLockRecoveries   atomic.Int64
	ValidationErrors      atomic.Int64

	SimulationsPerformed       atomic.Int64
	SimulationsSkipped         atomic.Int64
	PredictedReverts           atomic.Int64
	SimulationProfitRejections atomic.Int64
	SimulationErrors           atomic.Int64

	CircuitBreakerTrips  atomic.Int64
	CircuitBreakerBlocks atomic.Int64
	RiskRejections       atomic.Int64

	ProviderReconnections       atomic.Int64
	ProviderHealthCheckFailures atomic.Int64
}

// Snapshot is a plain-value copy of the counters, suitable for JSON
// serialization into health records.
type Snapshot struct {
	OpportunitiesReceived int64 `json:"opportunitiesReceived"`
	OpportunitiesRejected int64 `json:"opportunitiesRejected"`
	ExecutionAttempts     int64 `json:"executionAttempts"`
	SuccessfulExecutions  int64 `json:"successfulExecutions"`
	FailedExecutions      int64 `json:"failedExecutions"`
	ExecutionTimeouts     int64 `json:"executionTimeouts"`
	QueueRejects          int64 `json:"queueRejects"`
	LockConflicts         int64 `json:"lockConflicts"`
	StaleLockRecoveries   int64 `json:"staleLockRecoveries"`
	ValidationErrors      int64 `json:"validationErrors"`

	SimulationsPerformed       int64 `json:"simulationsPerformed"`
	SimulationsSkipped         int64 `json:"simulationsSkipped"`
	PredictedReverts           int64 `json:"predictedReverts"`
	SimulationProfitRejections int64 `json:"simulationProfitRejections"`
	SimulationErrors           int64 `json:"simulationErrors"`

	CircuitBreakerTrips  int64 `json:"circuitBreakerTrips"`
	CircuitBreakerBlocks int64 `json:"circuitBreakerBlocks"`
	RiskRejections       int64 `json:"riskRejections"`

	ProviderReconnections       int64 `json:"providerReconnections"`
	ProviderHealthCheckFailures int64 `json:"providerHealthCheckFailures"`
}

// New returns a zeroed counter set.
func New() *ExecutionStats {
	return &ExecutionStats{}
}

// Snapshot reads every counter once. Fields are loaded independently; a
// concurrent writer may land between loads.
func (s *ExecutionStats) Snapshot() Snapshot {
	return Snapshot{
		OpportunitiesReceived: s.OpportunitiesReceived.Load(),
		OpportunitiesRejected: s.OpportunitiesRejected.Load(),
		ExecutionAttempts:     s.ExecutionAttempts.Load(),
		SuccessfulExecutions:  s.SuccessfulExecutions.Load(),
		FailedExecutions:      s.FailedExecutions.Load(),
		ExecutionTimeouts:     s.ExecutionTimeouts.Load(),
		QueueRejects:          s.QueueRejects.Load(),
		LockConflicts:         s.LockConflicts.Load(),
		StaleLockRecoveries:   s.StaleLockRecoveries.Load(),
		ValidationErrors:      s.ValidationErrors.Load(),

		SimulationsPerformed:       s.SimulationsPerformed.Load(),
		SimulationsSkipped:         s.SimulationsSkipped.Load(),
		PredictedReverts:           s.PredictedReverts.Load(),
		SimulationProfitRejections: s.SimulationProfitRejections.Load(),
		SimulationErrors:           s.SimulationErrors.Load(),

		CircuitBreakerTrips:  s.CircuitBreakerTrips.Load(),
		CircuitBreakerBlocks: s.CircuitBreakerBlocks.Load(),
		RiskRejections:       s.RiskRejections.Load(),

		ProviderReconnections:       s.ProviderReconnections.Load(),
		ProviderHealthCheckFailures: s.ProviderHealthCheckFailures.Load(),
	}
}

package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ManagerMetrics
	CoordinatorMetrics
}

// ManagerMetrics defines metrics for the leadership lifecycle.
type ManagerMetrics interface {
	// RecordStateTransition records a manager state transition event.
	RecordStateTransition(from, to State, duration float64)

	// RecordLeadershipChange records a leadership grant (leader=true) or revocation.
	RecordLeadershipChange(term Term, leader bool)
}

// CoordinatorMetrics defines metrics for reconfiguration processing.
type CoordinatorMetrics interface {
	// RecordReconfiguration records a finished reconfiguration.
	//
	// Parameters:
	//   - kind: Reconfiguration kind ("rescale", "rebalance", "logic_swap", "noop")
	//   - success: true if every phase succeeded
	//   - duration: Time taken in seconds
	RecordReconfiguration(kind string, success bool, duration float64)

	// RecordPhaseDuration records the latency of one protocol phase.
	RecordPhaseDuration(phase string, success bool, duration float64)

	// RecordRejectedRequest records a request rejected before any phase ran.
	//
	// Parameters:
	//   - kind: Reconfiguration kind
	//   - reason: Rejection reason ("in_progress", "precondition", "not_found", "closed")
	RecordRejectedRequest(kind, reason string)

	// RecordOperatorParallelism sets the committed parallelism of an operator (gauge metric).
	RecordOperatorParallelism(operatorID int, parallelism int)
}

package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reconf library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Manager, Plan, Coordinator, Election)
//   - Use consistent messages across similar error types

// Manager errors - Public API errors returned by the lifecycle Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrProcessFactoryRequired is returned when no leader process factory is supplied.
	ErrProcessFactoryRequired = errors.New("leader process factory is required")

	// ErrAlreadyStarted is returned when Start is called on an already running manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when operations require a started manager.
	ErrNotStarted = errors.New("manager not started")

	// ErrLifecycle wraps every failure escalated to the FatalErrorHandler.
	ErrLifecycle = errors.New("leadership lifecycle failure")

	// ErrElectionFailed is returned when leader election fails.
	ErrElectionFailed = errors.New("leader election failed")

	// ErrLeadershipLost is returned when an operation requires a term that is no longer held.
	ErrLeadershipLost = errors.New("leadership lost")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	// This is used to distinguish network failures from application errors.
	ErrConnectivity = errors.New("connectivity issue")
)

// Plan errors - Returned by execution plan queries and mutations.
var (
	// ErrOperatorNotFound is returned when an operator id is unknown.
	ErrOperatorNotFound = errors.New("operator not found")

	// ErrDuplicateOperator is returned when an operator id is registered twice.
	ErrDuplicateOperator = errors.New("operator already registered")

	// ErrNodeNotFound is returned when a task is placed on an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrSlotUnavailable is returned when a task is placed on a missing or occupied slot.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrEdgeMismatch is returned when an edge's endpoint does not match the operator it is added to.
	ErrEdgeMismatch = errors.New("edge endpoint does not match operator")

	// ErrCycle is returned when an edge would close a cycle in the operator graph.
	ErrCycle = errors.New("edge would create a cycle")

	// ErrNotChild is returned when a key mapping targets an operator that is not a direct child.
	ErrNotChild = errors.New("operator is not a child")

	// ErrStatelessOperator is returned when key state is assigned to a stateless operator.
	ErrStatelessOperator = errors.New("operator is stateless")

	// ErrInvalidAllocation is returned when a key allocation breaks the disjoint-cover rule.
	ErrInvalidAllocation = errors.New("invalid key allocation")

	// ErrInvalidParallelism is returned when parallelism is outside [1, maxKeyGroups].
	ErrInvalidParallelism = errors.New("invalid parallelism")
)

// Coordinator errors - Returned by reconfiguration requests.
var (
	// ErrInvalidRequest is returned when a reconfiguration request fails a precondition.
	ErrInvalidRequest = errors.New("invalid reconfiguration request")

	// ErrAllocationMismatch is returned when the allocation size does not match the parallelism.
	ErrAllocationMismatch = errors.New("allocation does not match parallelism")

	// ErrReconfigurationInProgress is returned when another reconfiguration holds the owner marker.
	ErrReconfigurationInProgress = errors.New("reconfiguration already in progress")

	// ErrPhaseFailed matches every *PhaseError.
	ErrPhaseFailed = errors.New("reconfiguration phase failed")

	// ErrCoordinatorClosed is returned when a request reaches a coordinator that is shutting down.
	ErrCoordinatorClosed = errors.New("coordinator closed")

	// ErrCoordinatorNotStarted is returned when a request reaches a coordinator that is not serving yet.
	ErrCoordinatorNotStarted = errors.New("coordinator not started")
)

// Store errors - Returned by plan stores.
var (
	// ErrSnapshotNotFound is returned when no committed snapshot exists.
	ErrSnapshotNotFound = errors.New("plan snapshot not found")

	// ErrStaleTerm is returned when a write carries a term lower than one already observed.
	ErrStaleTerm = errors.New("stale leadership term")
)

// PhaseError reports a remote executor failure during one protocol phase.
//
// It matches ErrPhaseFailed with errors.Is and unwraps to the executor's cause.
type PhaseError struct {
	Kind       Kind
	Phase      Phase
	OperatorID int
	Err        error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s of operator %d failed in phase %s: %v", e.Kind, e.OperatorID, e.Phase, e.Err)
}

// Unwrap returns the executor's cause.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPhaseFailed.
func (e *PhaseError) Is(target error) bool {
	return target == ErrPhaseFailed
}

package coordinator

import (
	"context"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// Executor is the remote side of the reconfiguration protocol.
//
// Each method blocks until the executor acknowledges the step. Timeouts are
// the executor's responsibility; a returned error fails the current phase.
type Executor interface {
	// PrepareExecutionPlan pushes the updated plan for the reconfiguration of operatorID.
	PrepareExecutionPlan(ctx context.Context, snapshot *plan.Snapshot, operatorID int) error

	// SynchronizeTasks quiesces the given instances at a consistent point.
	SynchronizeTasks(ctx context.Context, tasks []types.TaskRef) error

	// UpdateKeyMapping installs new routing tables on the given upstream instances.
	UpdateKeyMapping(ctx context.Context, tasks []types.TaskRef) error

	// UpdateKeyState migrates key-group state among the given instances.
	UpdateKeyState(ctx context.Context, tasks []types.TaskRef) error

	// DeployTasks starts one instance, or all when offset is types.AllInstances.
	DeployTasks(ctx context.Context, operatorID, offset int) error

	// CancelTasks stops one instance, or all when offset is types.AllInstances.
	CancelTasks(ctx context.Context, operatorID, offset int) error

	// UpdateFunction swaps processing logic on one or all instances.
	UpdateFunction(ctx context.Context, operatorID, offset int) error

	// ResumeTasks releases every quiesced instance.
	ResumeTasks(ctx context.Context) error
}

// PlanStore persists plan snapshots across leadership terms.
type PlanStore interface {
	// Save stores snapshot. Implementations reject snapshots from an older term
	// with types.ErrStaleTerm.
	Save(ctx context.Context, snapshot *plan.Snapshot) error

	// Load returns the latest stored snapshot or types.ErrSnapshotNotFound.
	Load(ctx context.Context) (*plan.Snapshot, error)
}

// Policy is a control policy whose lifecycle follows the coordinator.
//
// Start is called once the coordinator serves requests, Stop when it is torn
// down. A policy registered with a Factory is started on every coordinator
// the factory creates, one term at a time.
type Policy interface {
	types.ControlPolicy

	// Start binds the policy to a serving coordinator.
	Start(ctx context.Context, c *Coordinator) error

	// Stop unbinds the policy. It must not block on in-flight reconfigurations.
	Stop()
}

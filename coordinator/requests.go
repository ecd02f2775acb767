package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// request is one accepted reconfiguration.
type request struct {
	id         string
	kind       types.Kind
	operatorID int
	caller     types.ControlPolicy
	snapshot   *plan.Snapshot
	steps      []step
	commit     bool
	accepted   time.Time
}

// Rescale changes the parallelism of an operator and redistributes its keys.
//
// The request is validated and applied to the plan synchronously; the phase
// protocol (Prepare, Synchronize, UpdateKeyMapping, UpdateKeyState, Resize,
// Resume) then runs in the background and its outcome is delivered to
// caller.OnUpdateFinished. A rescale to the current parallelism is rejected
// with ErrInvalidRequest; use Rebalance to move keys at a fixed parallelism.
//
// Parameters:
//   - ctx: Bounds the wait for the main loop only
//   - operatorID: Operator to rescale
//   - parallelism: New parallelism, in [1, MaxKeyGroups] and different from the current one
//   - alloc: New key allocation with exactly parallelism instances; may be nil for a stateless operator
//   - caller: Policy notified on completion
//
// Returns:
//   - error: Precondition or lookup error; nil means the protocol was started
//
// Example:
//
//	alloc, _ := plan.BalancedAllocation(128, 3)
//	err := c.Rescale(ctx, 2, 3, alloc, types.ControlPolicyFunc(func(err error) {
//	    log.Printf("rescale finished: %v", err)
//	}))
func (c *Coordinator) Rescale(ctx context.Context, operatorID, parallelism int, alloc plan.KeyAllocation, caller types.ControlPolicy) error {
	return c.accept(ctx, types.KindRescale, operatorID, caller, func(req *request) error {
		p := c.plan

		current, err := p.Parallelism(operatorID)
		if err != nil {
			return err
		}

		if parallelism < 1 || parallelism > p.MaxKeyGroups() {
			return fmt.Errorf("%w: parallelism %d outside [1, %d]", types.ErrInvalidRequest, parallelism, p.MaxKeyGroups())
		}
		if parallelism == current {
			return fmt.Errorf("%w: operator %d already runs %d instances", types.ErrInvalidRequest, operatorID, parallelism)
		}

		stateful, _ := p.IsStateful(operatorID)
		if alloc == nil && !stateful {
			if alloc, err = plan.BalancedAllocation(p.MaxKeyGroups(), parallelism); err != nil {
				return err
			}
		}
		if len(alloc) != parallelism {
			return fmt.Errorf("%w: %d instances allocated for parallelism %d", types.ErrAllocationMismatch, len(alloc), parallelism)
		}
		if err := alloc.Validate(p.MaxKeyGroups()); err != nil {
			return err
		}

		parents, _ := p.Parents(operatorID)
		children, _ := p.Children(operatorID)

		if err := p.SetParallelism(operatorID, parallelism); err != nil {
			return err
		}
		if err := p.Redistribute(operatorID, alloc); err != nil {
			return err
		}

		affected := allTasks(operatorID)
		affected = append(affected, allTasks(parents...)...)
		affected = append(affected, allTasks(children...)...)

		req.steps = []step{
			prepareStep(operatorID),
			{types.PhaseSynchronize, func(ctx context.Context, e Executor, _ *request) error {
				return e.SynchronizeTasks(ctx, affected)
			}},
			{types.PhaseUpdateKeyMapping, func(ctx context.Context, e Executor, _ *request) error {
				return e.UpdateKeyMapping(ctx, allTasks(parents...))
			}},
			{types.PhaseUpdateKeyState, func(ctx context.Context, e Executor, _ *request) error {
				return e.UpdateKeyState(ctx, allTasks(operatorID))
			}},
			{types.PhaseResize, func(ctx context.Context, e Executor, _ *request) error {
				return resize(ctx, e, operatorID, current, parallelism)
			}},
			resumeStep(),
		}
		req.commit = true

		return nil
	})
}

// Rebalance redistributes the keys of an operator at its current parallelism.
//
// stateful must agree with the plan: a stateful rebalance of a stateless
// operator fails with ErrStatelessOperator, and a stateless rebalance of a
// stateful operator fails with ErrInvalidRequest. A stateful rebalance runs
// Prepare, Synchronize, UpdateKeyMapping, UpdateKeyState and Resume; a
// stateless one only Prepare and UpdateKeyMapping.
//
// Returns:
//   - error: Precondition or lookup error; nil means the protocol was started
func (c *Coordinator) Rebalance(ctx context.Context, operatorID int, alloc plan.KeyAllocation, stateful bool, caller types.ControlPolicy) error {
	return c.accept(ctx, types.KindRebalance, operatorID, caller, func(req *request) error {
		p := c.plan

		planStateful, err := p.IsStateful(operatorID)
		if err != nil {
			return err
		}

		switch {
		case stateful && !planStateful:
			return fmt.Errorf("%w: operator %d", types.ErrStatelessOperator, operatorID)
		case !stateful && planStateful:
			return fmt.Errorf("%w: operator %d owns keyed state", types.ErrInvalidRequest, operatorID)
		}

		parallelism, _ := p.Parallelism(operatorID)
		if len(alloc) != parallelism {
			return fmt.Errorf("%w: %d instances allocated for parallelism %d", types.ErrAllocationMismatch, len(alloc), parallelism)
		}
		if err := alloc.Validate(p.MaxKeyGroups()); err != nil {
			return err
		}

		parents, _ := p.Parents(operatorID)
		if err := p.Redistribute(operatorID, alloc); err != nil {
			return err
		}

		updateMapping := step{types.PhaseUpdateKeyMapping, func(ctx context.Context, e Executor, _ *request) error {
			return e.UpdateKeyMapping(ctx, allTasks(parents...))
		}}

		if !stateful {
			req.steps = []step{prepareStep(operatorID), updateMapping}
			req.commit = true

			return nil
		}

		affected := append(allTasks(operatorID), allTasks(parents...)...)
		req.steps = []step{
			prepareStep(operatorID),
			{types.PhaseSynchronize, func(ctx context.Context, e Executor, _ *request) error {
				return e.SynchronizeTasks(ctx, affected)
			}},
			updateMapping,
			{types.PhaseUpdateKeyState, func(ctx context.Context, e Executor, _ *request) error {
				return e.UpdateKeyState(ctx, allTasks(operatorID))
			}},
			resumeStep(),
		}
		req.commit = true

		return nil
	})
}

// ReconfigureFunction replaces the processing logic of an operator.
//
// The logic record is installed wholesale; runs Prepare, Synchronize and
// UpdateFunction against every instance of the operator.
//
// Returns:
//   - error: Precondition or lookup error; nil means the protocol was started
func (c *Coordinator) ReconfigureFunction(ctx context.Context, operatorID int, logic plan.Logic, caller types.ControlPolicy) error {
	return c.accept(ctx, types.KindLogicSwap, operatorID, caller, func(req *request) error {
		if logic == nil {
			return fmt.Errorf("%w: logic is required", types.ErrInvalidRequest)
		}

		if err := c.plan.SetLogic(operatorID, logic); err != nil {
			return err
		}

		req.steps = []step{
			prepareStep(operatorID),
			{types.PhaseSynchronize, func(ctx context.Context, e Executor, _ *request) error {
				return e.SynchronizeTasks(ctx, allTasks(operatorID))
			}},
			{types.PhaseUpdateFunction, func(ctx context.Context, e Executor, _ *request) error {
				return e.UpdateFunction(ctx, operatorID, types.AllInstances)
			}},
		}
		req.commit = true

		return nil
	})
}

// NoOp synchronizes and resumes every instance of an operator without changing the plan.
//
// Policies use it as a barrier to observe a consistent plan.
func (c *Coordinator) NoOp(ctx context.Context, operatorID int, caller types.ControlPolicy) error {
	return c.accept(ctx, types.KindNoOp, operatorID, caller, func(req *request) error {
		if !c.plan.HasOperator(operatorID) {
			return fmt.Errorf("%w: %d", types.ErrOperatorNotFound, operatorID)
		}

		req.steps = []step{
			{types.PhaseSynchronize, func(ctx context.Context, e Executor, _ *request) error {
				return e.SynchronizeTasks(ctx, allTasks(operatorID))
			}},
			resumeStep(),
		}

		return nil
	})
}

// accept runs validate on the main loop. validate checks the request, mutates
// the plan and fills in the protocol steps; it must not mutate the plan when it
// fails. On success the caller becomes the owner and the protocol starts.
func (c *Coordinator) accept(ctx context.Context, kind types.Kind, operatorID int, caller types.ControlPolicy, validate func(*request) error) error {
	var req *request

	err := c.call(ctx, func() error {
		if c.closing {
			return types.ErrCoordinatorClosed
		}
		if caller == nil {
			return fmt.Errorf("%w: caller is required", types.ErrInvalidRequest)
		}
		if c.owner != nil {
			return types.ErrReconfigurationInProgress
		}

		req = &request{
			id:         uuid.New().String(),
			kind:       kind,
			operatorID: operatorID,
			caller:     caller,
			accepted:   time.Now(),
		}
		if err := validate(req); err != nil {
			return err
		}

		c.owner = caller
		req.snapshot = c.publish()
		c.protoWG.Add(1)

		return nil
	})
	if err != nil {
		c.metrics.RecordRejectedRequest(kind.String(), rejectReason(err))
		c.logger.Warn("reconfiguration rejected",
			"kind", kind,
			"operator_id", operatorID,
			"error", err,
		)

		return err
	}

	c.logger.Info("reconfiguration accepted",
		"request_id", req.id,
		"kind", kind,
		"operator_id", operatorID,
		"plan_version", req.snapshot.Version,
	)

	go c.execute(req)

	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrCoordinatorClosed), errors.Is(err, types.ErrCoordinatorNotStarted):
		return "closed"
	case errors.Is(err, types.ErrReconfigurationInProgress):
		return "in_progress"
	case errors.Is(err, types.ErrOperatorNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "precondition"
	}
}

func allTasks(operatorIDs ...int) []types.TaskRef {
	refs := make([]types.TaskRef, 0, len(operatorIDs))
	for _, id := range operatorIDs {
		refs = append(refs, types.AllTasks(id))
	}

	return refs
}

func prepareStep(operatorID int) step {
	return step{types.PhasePrepare, func(ctx context.Context, e Executor, req *request) error {
		return e.PrepareExecutionPlan(ctx, req.snapshot, operatorID)
	}}
}

func resumeStep() step {
	return step{types.PhaseResume, func(ctx context.Context, e Executor, _ *request) error {
		return e.ResumeTasks(ctx)
	}}
}

// resize deploys instances [from, to) or cancels instances [to, from).
func resize(ctx context.Context, e Executor, operatorID, from, to int) error {
	for offset := from; offset < to; offset++ {
		if err := e.DeployTasks(ctx, operatorID, offset); err != nil {
			return fmt.Errorf("deploy instance %d: %w", offset, err)
		}
	}

	for offset := from - 1; offset >= to; offset-- {
		if err := e.CancelTasks(ctx, operatorID, offset); err != nil {
			return fmt.Errorf("cancel instance %d: %w", offset, err)
		}
	}

	return nil
}

// Package policy provides stock control policies driving a coordinator.
package policy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/reconf/coordinator"
	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// Rescaler is a control policy that issues one reconfiguration at a time and
// waits for its completion.
//
// Allocations are computed with the balanced key-group division, so after a
// Rescaler call every instance owns a contiguous key-group range.
//
// Thread Safety:
//   - Calls are serialized; a call waits until the previous one finished
//   - A call abandoned through its context is still awaited by the next call
type Rescaler struct {
	logger types.Logger

	mu        sync.Mutex // serializes requests
	abandoned chan error

	pmu     sync.Mutex
	pending chan error

	coord atomic.Pointer[coordinator.Coordinator]
}

var _ coordinator.Policy = (*Rescaler)(nil)

// NewRescaler creates a Rescaler. Register it with coordinator.WithPolicies.
//
// Example:
//
//	rescaler := policy.NewRescaler(logger)
//	factory, _ := coordinator.NewFactory(seed, newExecutor, coordinator.WithPolicies(rescaler))
//	...
//	err := rescaler.ScaleOut(ctx, counterID)
func NewRescaler(logger types.Logger) *Rescaler {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Rescaler{logger: logger}
}

// Start implements coordinator.Policy.
func (r *Rescaler) Start(_ context.Context, c *coordinator.Coordinator) error {
	r.coord.Store(c)
	r.logger.Info("rescaler bound to coordinator", "term", c.Term())

	return nil
}

// Stop implements coordinator.Policy.
func (r *Rescaler) Stop() {
	if c := r.coord.Swap(nil); c != nil {
		r.logger.Info("rescaler unbound from coordinator", "term", c.Term())
	}
}

// OnUpdateFinished implements types.ControlPolicy.
func (r *Rescaler) OnUpdateFinished(err error) {
	r.pmu.Lock()
	ch := r.pending
	r.pending = nil
	r.pmu.Unlock()

	if ch != nil {
		ch <- err
	}
}

// ScaleTo changes the parallelism of an operator to parallelism.
//
// It rebalances when parallelism equals the current one and rescales otherwise.
//
// Returns:
//   - error: Rejection by the coordinator, or the protocol failure
func (r *Rescaler) ScaleTo(ctx context.Context, operatorID, parallelism int) error {
	return r.submit(ctx, func(c *coordinator.Coordinator, snap *plan.Snapshot) error {
		op, ok := snap.Operator(operatorID)
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrOperatorNotFound, operatorID)
		}

		alloc, err := plan.BalancedAllocation(snap.MaxKeyGroups, parallelism)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
		}

		if parallelism == op.Parallelism {
			return c.Rebalance(ctx, operatorID, alloc, op.Stateful, r)
		}

		r.logger.Info("rescaling operator",
			"operator_id", operatorID,
			"from", op.Parallelism,
			"to", parallelism,
		)

		return c.Rescale(ctx, operatorID, parallelism, alloc, r)
	})
}

// ScaleOut adds one instance to an operator.
func (r *Rescaler) ScaleOut(ctx context.Context, operatorID int) error {
	return r.scaleBy(ctx, operatorID, 1)
}

// ScaleIn removes one instance from an operator.
func (r *Rescaler) ScaleIn(ctx context.Context, operatorID int) error {
	return r.scaleBy(ctx, operatorID, -1)
}

func (r *Rescaler) scaleBy(ctx context.Context, operatorID, delta int) error {
	c := r.coord.Load()
	if c == nil {
		return types.ErrCoordinatorNotStarted
	}

	current, err := c.ExecutionPlan().Parallelism(operatorID)
	if err != nil {
		return err
	}

	return r.ScaleTo(ctx, operatorID, current+delta)
}

// LoadBalance restores the balanced allocation at the current parallelism.
func (r *Rescaler) LoadBalance(ctx context.Context, operatorID int) error {
	return r.submit(ctx, func(c *coordinator.Coordinator, snap *plan.Snapshot) error {
		op, ok := snap.Operator(operatorID)
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrOperatorNotFound, operatorID)
		}

		alloc, err := plan.BalancedAllocation(snap.MaxKeyGroups, op.Parallelism)
		if err != nil {
			return err
		}

		return c.Rebalance(ctx, operatorID, alloc, op.Stateful, r)
	})
}

// Reassign installs a caller-supplied allocation at the current parallelism.
func (r *Rescaler) Reassign(ctx context.Context, operatorID int, alloc plan.KeyAllocation) error {
	return r.submit(ctx, func(c *coordinator.Coordinator, snap *plan.Snapshot) error {
		op, ok := snap.Operator(operatorID)
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrOperatorNotFound, operatorID)
		}

		return c.Rebalance(ctx, operatorID, alloc, op.Stateful, r)
	})
}

// SwapLogic installs new processing logic on an operator.
func (r *Rescaler) SwapLogic(ctx context.Context, operatorID int, logic plan.Logic) error {
	return r.submit(ctx, func(c *coordinator.Coordinator, _ *plan.Snapshot) error {
		return c.ReconfigureFunction(ctx, operatorID, logic, r)
	})
}

// Barrier synchronizes and resumes an operator without changing the plan.
func (r *Rescaler) Barrier(ctx context.Context, operatorID int) error {
	return r.submit(ctx, func(c *coordinator.Coordinator, _ *plan.Snapshot) error {
		return c.NoOp(ctx, operatorID, r)
	})
}

// submit issues one request and waits for its completion.
func (r *Rescaler) submit(ctx context.Context, issue func(*coordinator.Coordinator, *plan.Snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.abandoned; prev != nil {
		select {
		case <-prev:
			r.abandoned = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c := r.coord.Load()
	if c == nil {
		return types.ErrCoordinatorNotStarted
	}

	done := make(chan error, 1)
	r.pmu.Lock()
	r.pending = done
	r.pmu.Unlock()

	if err := issue(c, c.ExecutionPlan()); err != nil {
		r.pmu.Lock()
		r.pending = nil
		r.pmu.Unlock()

		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.abandoned = done
		return ctx.Err()
	}
}

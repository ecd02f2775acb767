package coordinator

import (
	"context"
	"time"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// step is one phase of a reconfiguration protocol.
type step struct {
	phase types.Phase
	run   func(ctx context.Context, e Executor, req *request) error
}

// execute drives the protocol of an accepted request to completion or failure.
// Phases never overlap, and the first failure aborts the rest.
func (c *Coordinator) execute(req *request) {
	defer c.protoWG.Done()

	phases := make([]types.Phase, 0, len(req.steps))

	var err error
	for _, s := range req.steps {
		phases = append(phases, s.phase)
		if err = c.runStep(req, s); err != nil {
			break
		}
	}

	snap := c.finish(req, err)
	c.persist(req, snap, err)

	result := types.Result{
		ID:         req.id,
		Kind:       req.kind,
		OperatorID: req.operatorID,
		Phases:     phases,
		Duration:   time.Since(req.accepted),
		Err:        err,
	}
	c.metrics.RecordReconfiguration(req.kind.String(), err == nil, result.Duration.Seconds())
	if parallelism, perr := snap.Parallelism(req.operatorID); perr == nil {
		c.metrics.RecordOperatorParallelism(req.operatorID, parallelism)
	}

	if err != nil {
		c.logger.Error("reconfiguration failed",
			"request_id", req.id,
			"kind", req.kind,
			"operator_id", req.operatorID,
			"phases", len(phases),
			"duration_ms", result.Duration.Milliseconds(),
			"error", err,
		)
	} else {
		c.logger.Info("reconfiguration finished",
			"request_id", req.id,
			"kind", req.kind,
			"operator_id", req.operatorID,
			"plan_version", snap.Version,
			"duration_ms", result.Duration.Milliseconds(),
		)
	}

	go func() {
		if hookErr := c.hooks.OnReconfigured(c.ctx, result); hookErr != nil {
			c.logger.Error("OnReconfigured hook failed", "request_id", req.id, "error", hookErr)
		}
	}()

	req.caller.OnUpdateFinished(err)
}

func (c *Coordinator) runStep(req *request, s step) error {
	ctx := c.ctx
	if c.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.phaseTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.run(ctx, c.executor, req)
	elapsed := time.Since(start)

	c.metrics.RecordPhaseDuration(s.phase.String(), err == nil, elapsed.Seconds())
	c.logger.Debug("phase completed",
		"request_id", req.id,
		"phase", s.phase,
		"duration_ms", elapsed.Milliseconds(),
		"success", err == nil,
	)

	if err != nil {
		return &types.PhaseError{
			Kind:       req.kind,
			Phase:      s.phase,
			OperatorID: req.operatorID,
			Err:        err,
		}
	}

	return nil
}

// finish releases the owner and commits or marks the plan provisional.
func (c *Coordinator) finish(req *request, cause error) *plan.Snapshot {
	var snap *plan.Snapshot

	// The loop outlives every protocol, so this call cannot be rejected.
	_ = c.call(context.Background(), func() error {
		c.owner = nil

		switch {
		case cause != nil:
			c.plan.MarkProvisional(cause)
		case req.commit:
			c.plan.Commit()
		}
		snap = c.publish()

		return nil
	})

	return snap
}

// persist writes the plan to the store after a commit or a failure.
func (c *Coordinator) persist(req *request, snap *plan.Snapshot, cause error) {
	if c.store == nil || (cause == nil && !req.commit) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	if err := c.store.Save(ctx, snap); err != nil {
		c.logger.Error("failed to persist plan",
			"request_id", req.id,
			"plan_version", snap.Version,
			"error", err,
		)

		go func() {
			if hookErr := c.hooks.OnError(c.ctx, err); hookErr != nil {
				c.logger.Error("OnError hook failed", "error", hookErr)
			}
		}()
	}
}

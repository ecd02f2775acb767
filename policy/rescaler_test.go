package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/reconf/coordinator"
	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/plan"
	reconftest "github.com/arloliu/reconf/testing"
	"github.com/arloliu/reconf/types"
)

const (
	sourceID  = 1
	counterID = 2
	sinkID    = 3
)

func setup(t *testing.T) (*Rescaler, *coordinator.Coordinator, *reconftest.RecordingExecutor) {
	t.Helper()

	p, err := plan.New(12)
	require.NoError(t, err)
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{ID: sourceID, Name: "source", Parallelism: 1}))
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{ID: counterID, Name: "counter", Parallelism: 2, Stateful: true}))
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{ID: sinkID, Name: "sink", Parallelism: 1}))
	require.NoError(t, p.AddChildren(sourceID, plan.Edge{Source: sourceID, Target: counterID}))
	require.NoError(t, p.AddChildren(counterID, plan.Edge{Source: counterID, Target: sinkID}))

	exec := reconftest.NewRecordingExecutor()
	rescaler := NewRescaler(logging.NewTest(t))

	c, err := coordinator.New(1, p.Snapshot(), exec,
		coordinator.WithLogger(logging.NewTest(t)),
		coordinator.WithPolicies(rescaler),
	)
	require.NoError(t, err)
	_, err = c.Start(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { <-c.Close() })

	return rescaler, c, exec
}

func TestRescaler_ScaleOutAndIn(t *testing.T) {
	rescaler, c, exec := setup(t)
	ctx := t.Context()

	require.NoError(t, rescaler.ScaleOut(ctx, counterID))

	snap := c.ExecutionPlan()
	op, _ := snap.Operator(counterID)
	require.Equal(t, 3, op.Parallelism)
	require.Equal(t, plan.KeyAllocation{0: {0, 1, 2, 3}, 1: {4, 5, 6, 7}, 2: {8, 9, 10, 11}}, op.KeyState)
	require.Equal(t, 1, exec.Count(types.PhaseResize))

	require.NoError(t, rescaler.ScaleIn(ctx, counterID))
	op, _ = c.ExecutionPlan().Operator(counterID)
	require.Equal(t, 2, op.Parallelism)
	require.Equal(t, uint64(2), c.ExecutionPlan().Version)
}

func TestRescaler_ScaleToCurrentRebalances(t *testing.T) {
	rescaler, _, exec := setup(t)

	require.NoError(t, rescaler.ScaleTo(t.Context(), counterID, 2))
	require.Zero(t, exec.Count(types.PhaseResize))
	require.Equal(t, 1, exec.Count(types.PhaseUpdateKeyState))
}

func TestRescaler_LoadBalance(t *testing.T) {
	rescaler, c, exec := setup(t)
	ctx := t.Context()

	skewed := plan.KeyAllocation{0: {0}, 1: {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}}
	require.NoError(t, rescaler.Reassign(ctx, counterID, skewed))
	op, _ := c.ExecutionPlan().Operator(counterID)
	require.Equal(t, skewed, op.KeyState)

	exec.Reset()
	require.NoError(t, rescaler.LoadBalance(ctx, counterID))
	op, _ = c.ExecutionPlan().Operator(counterID)
	require.Equal(t, plan.KeyAllocation{0: {0, 1, 2, 3, 4, 5}, 1: {6, 7, 8, 9, 10, 11}}, op.KeyState)

	// A stateless operator rebalances its routing only.
	exec.Reset()
	require.NoError(t, rescaler.LoadBalance(ctx, sinkID))
	require.Equal(t, []types.Phase{types.PhasePrepare, types.PhaseUpdateKeyMapping}, exec.Phases())
}

func TestRescaler_SwapLogicAndBarrier(t *testing.T) {
	rescaler, c, exec := setup(t)
	ctx := t.Context()

	logic := plan.NewLogic(map[string]plan.Attribute{plan.AttrUDF: plan.StringAttr("count-v2")})
	require.NoError(t, rescaler.SwapLogic(ctx, counterID, logic))
	op, _ := c.ExecutionPlan().Operator(counterID)
	udf, ok := op.Logic.String(plan.AttrUDF)
	require.True(t, ok)
	require.Equal(t, "count-v2", udf)

	exec.Reset()
	require.NoError(t, rescaler.Barrier(ctx, sinkID))
	require.Equal(t, []types.Phase{types.PhaseSynchronize, types.PhaseResume}, exec.Phases())
}

func TestRescaler_Errors(t *testing.T) {
	t.Run("unbound", func(t *testing.T) {
		rescaler := NewRescaler(nil)
		require.ErrorIs(t, rescaler.ScaleOut(t.Context(), counterID), types.ErrCoordinatorNotStarted)
		require.ErrorIs(t, rescaler.Barrier(t.Context(), counterID), types.ErrCoordinatorNotStarted)
	})

	t.Run("rejections and lookups", func(t *testing.T) {
		rescaler, _, _ := setup(t)

		require.ErrorIs(t, rescaler.ScaleTo(t.Context(), 99, 2), types.ErrOperatorNotFound)
		require.ErrorIs(t, rescaler.ScaleTo(t.Context(), counterID, 13), types.ErrInvalidRequest)
		require.ErrorIs(t, rescaler.ScaleIn(t.Context(), sourceID), types.ErrInvalidRequest)
	})

	t.Run("phase failure is returned", func(t *testing.T) {
		rescaler, c, exec := setup(t)
		exec.FailPhase(types.PhaseResize, errors.New("no free slot"))

		err := rescaler.ScaleOut(t.Context(), counterID)
		require.ErrorIs(t, err, types.ErrPhaseFailed)
		require.True(t, c.ExecutionPlan().Provisional)
	})

	t.Run("abandoned call is awaited by the next one", func(t *testing.T) {
		rescaler, c, exec := setup(t)
		entered, release := exec.Gate(types.PhaseResume)

		ctx, cancel := context.WithCancel(t.Context())
		errCh := make(chan error, 1)
		go func() { errCh <- rescaler.Barrier(ctx, sinkID) }()

		<-entered
		cancel()
		require.ErrorIs(t, <-errCh, context.Canceled)

		next := make(chan error, 1)
		go func() { next <- rescaler.ScaleOut(t.Context(), counterID) }()

		select {
		case err := <-next:
			t.Fatalf("next call ran before the abandoned one finished: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		release()
		require.NoError(t, <-next)
		parallelism, _ := c.ExecutionPlan().Parallelism(counterID)
		require.Equal(t, 3, parallelism)
	})

	t.Run("stop unbinds", func(t *testing.T) {
		rescaler, c, _ := setup(t)
		<-c.Close()

		require.ErrorIs(t, rescaler.ScaleOut(t.Context(), counterID), types.ErrCoordinatorNotStarted)
	})
}

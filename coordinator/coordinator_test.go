package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/internal/metrics"
	"github.com/arloliu/reconf/plan"
	reconftest "github.com/arloliu/reconf/testing"
	"github.com/arloliu/reconf/types"
)

const (
	sourceID  = 10
	counterID = 1
	sinkID    = 20
	testM     = 128
)

var _ Executor = (*reconftest.RecordingExecutor)(nil)

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for kg := from; kg < to; kg++ {
		out = append(out, kg)
	}

	return out
}

// newSeed builds source(10) -> counter(1, stateful) -> sink(20), M = 128,
// with counter split 0-63 / 64-127.
func newSeed(t *testing.T) *plan.Snapshot {
	t.Helper()

	p, err := plan.New(testM)
	require.NoError(t, err)

	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{ID: sourceID, Name: "source", Parallelism: 1}))
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{
		ID:          counterID,
		Name:        "counter",
		Parallelism: 2,
		Stateful:    true,
		KeyState:    plan.KeyAllocation{0: span(0, 64), 1: span(64, 128)},
		Logic:       plan.NewLogic(map[string]plan.Attribute{plan.AttrUDF: plan.StringAttr("count-v1")}),
	}))
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{ID: sinkID, Name: "sink", Parallelism: 1}))
	require.NoError(t, p.AddChildren(sourceID, plan.Edge{Source: sourceID, Target: counterID}))
	require.NoError(t, p.AddChildren(counterID, plan.Edge{Source: counterID, Target: sinkID}))

	return p.Snapshot()
}

type rejectionMetrics struct {
	*metrics.NopMetrics

	mu       sync.Mutex
	rejected map[string]int
}

func (m *rejectionMetrics) RecordRejectedRequest(kind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[kind+"/"+reason]++
}

func startCoordinator(t *testing.T, exec Executor, opts ...Option) *Coordinator {
	t.Helper()

	opts = append([]Option{WithLogger(logging.NewTest(t))}, opts...)
	c, err := New(7, newSeed(t), exec, opts...)
	require.NoError(t, err)

	_, err = c.Start(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { waitClosed(t, c.Close()) })

	return c
}

func waitClosed(t *testing.T, ch <-chan error) {
	t.Helper()

	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not close")
	}
}

// completion returns a caller and a channel receiving its outcome.
func completion() (types.ControlPolicy, <-chan error) {
	ch := make(chan error, 1)
	return types.ControlPolicyFunc(func(err error) { ch <- err }), ch
}

func waitFinished(t *testing.T, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("reconfiguration did not finish")
		return nil
	}
}

func TestCoordinator_Rescale(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec)

	alloc := plan.KeyAllocation{0: span(0, 43), 1: span(43, 86), 2: span(86, 128)}
	caller, done := completion()

	require.NoError(t, c.Rescale(t.Context(), counterID, 3, alloc, caller))
	require.NoError(t, waitFinished(t, done))

	require.Equal(t, []types.Phase{
		types.PhasePrepare,
		types.PhaseSynchronize,
		types.PhaseUpdateKeyMapping,
		types.PhaseUpdateKeyState,
		types.PhaseResize,
		types.PhaseResume,
	}, exec.Phases())

	calls := exec.Calls()
	prepared, err := calls[0].Plan.Parallelism(counterID)
	require.NoError(t, err)
	require.Equal(t, 3, prepared)
	require.Equal(t, counterID, calls[0].OperatorID)

	require.ElementsMatch(t, []types.TaskRef{
		types.AllTasks(counterID), types.AllTasks(sourceID), types.AllTasks(sinkID),
	}, calls[1].Tasks)
	require.Equal(t, []types.TaskRef{types.AllTasks(sourceID)}, calls[2].Tasks)
	require.Equal(t, []types.TaskRef{types.AllTasks(counterID)}, calls[3].Tasks)
	require.True(t, calls[4].Deploy)
	require.Equal(t, 2, calls[4].Offset)

	snap := c.ExecutionPlan()
	op, ok := snap.Operator(counterID)
	require.True(t, ok)
	require.Equal(t, 3, op.Parallelism)
	require.Empty(t, cmp.Diff(alloc, op.KeyState))
	require.Equal(t, uint64(1), snap.Version)
	require.Equal(t, types.Term(7), snap.Term)
	require.False(t, snap.Provisional)

	source, _ := snap.Operator(sourceID)
	require.Empty(t, cmp.Diff(alloc, source.KeyMapping[counterID]))
	require.False(t, c.Busy())
}

func TestCoordinator_RescaleIn(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec)

	caller, done := completion()
	require.NoError(t, c.Rescale(t.Context(), counterID, 1, plan.KeyAllocation{0: span(0, 128)}, caller))
	require.NoError(t, waitFinished(t, done))

	var resize []reconftest.Call
	for _, call := range exec.Calls() {
		if call.Phase == types.PhaseResize {
			resize = append(resize, call)
		}
	}
	require.Len(t, resize, 1)
	require.False(t, resize[0].Deploy)
	require.Equal(t, 1, resize[0].Offset)

	parallelism, err := c.ExecutionPlan().Parallelism(counterID)
	require.NoError(t, err)
	require.Equal(t, 1, parallelism)
}

func TestCoordinator_RescaleRejectedBeforeAnyPhase(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	collector := &rejectionMetrics{NopMetrics: metrics.NewNop(), rejected: make(map[string]int)}
	c := startCoordinator(t, exec, WithMetrics(collector))
	before := c.ExecutionPlan()

	tests := []struct {
		name        string
		operatorID  int
		parallelism int
		alloc       plan.KeyAllocation
		wantErr     error
	}{
		{
			name:        "allocation size differs from parallelism",
			operatorID:  counterID,
			parallelism: 3,
			alloc:       plan.KeyAllocation{0: span(0, 64), 1: span(64, 128)},
			wantErr:     types.ErrAllocationMismatch,
		},
		{
			name:        "missing allocation for stateful operator",
			operatorID:  counterID,
			parallelism: 3,
			wantErr:     types.ErrAllocationMismatch,
		},
		{
			name:        "overlapping allocation",
			operatorID:  counterID,
			parallelism: 3,
			alloc:       plan.KeyAllocation{0: span(0, 64), 1: span(60, 100), 2: span(100, 128)},
			wantErr:     types.ErrInvalidAllocation,
		},
		{
			name:        "parallelism above max key groups",
			operatorID:  counterID,
			parallelism: testM + 1,
			wantErr:     types.ErrInvalidRequest,
		},
		{
			name:        "unchanged parallelism",
			operatorID:  counterID,
			parallelism: 2,
			alloc:       plan.KeyAllocation{0: span(0, 64), 1: span(64, 128)},
			wantErr:     types.ErrInvalidRequest,
		},
		{
			name:        "unknown operator",
			operatorID:  99,
			parallelism: 2,
			wantErr:     types.ErrOperatorNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, done := completion()
			err := c.Rescale(t.Context(), tt.operatorID, tt.parallelism, tt.alloc, caller)
			require.ErrorIs(t, err, tt.wantErr)

			select {
			case <-done:
				t.Fatal("rejected request must not be notified")
			default:
			}
		})
	}

	require.Empty(t, exec.Calls())
	require.Empty(t, cmp.Diff(before, c.ExecutionPlan()))
	require.False(t, c.Busy())

	collector.mu.Lock()
	defer collector.mu.Unlock()
	require.Equal(t, map[string]int{"rescale/precondition": 5, "rescale/not_found": 1}, collector.rejected)
}

func TestCoordinator_RescaleStatelessRunsFullSequence(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec)

	caller, done := completion()
	require.NoError(t, c.Rescale(t.Context(), sinkID, 2, nil, caller))
	require.NoError(t, waitFinished(t, done))

	require.Equal(t, []types.Phase{
		types.PhasePrepare,
		types.PhaseSynchronize,
		types.PhaseUpdateKeyMapping,
		types.PhaseUpdateKeyState,
		types.PhaseResize,
		types.PhaseResume,
	}, exec.Phases())
	require.Equal(t, 1, exec.Count(types.PhaseUpdateKeyState))

	counter, _ := c.ExecutionPlan().Operator(counterID)
	require.Equal(t, plan.KeyAllocation{0: span(0, 64), 1: span(64, 128)}, counter.KeyMapping[sinkID])
}

func TestCoordinator_Rebalance(t *testing.T) {
	t.Run("stateless operator runs prepare and key mapping only", func(t *testing.T) {
		exec := reconftest.NewRecordingExecutor()
		c := startCoordinator(t, exec)

		alloc := plan.KeyAllocation{0: span(0, 128)}
		caller, done := completion()
		require.NoError(t, c.Rebalance(t.Context(), sinkID, alloc, false, caller))
		require.NoError(t, waitFinished(t, done))

		require.Equal(t, []types.Phase{types.PhasePrepare, types.PhaseUpdateKeyMapping}, exec.Phases())
		require.Equal(t, []types.TaskRef{types.AllTasks(counterID)}, exec.Calls()[1].Tasks)
		require.Zero(t, exec.Count(types.PhaseSynchronize))
		require.Zero(t, exec.Count(types.PhaseUpdateKeyState))
		require.Zero(t, exec.Count(types.PhaseResume))
	})

	t.Run("stateful operator migrates state", func(t *testing.T) {
		exec := reconftest.NewRecordingExecutor()
		c := startCoordinator(t, exec)

		alloc := plan.KeyAllocation{0: span(0, 100), 1: span(100, 128)}
		caller, done := completion()
		require.NoError(t, c.Rebalance(t.Context(), counterID, alloc, true, caller))
		require.NoError(t, waitFinished(t, done))

		require.Equal(t, []types.Phase{
			types.PhasePrepare,
			types.PhaseSynchronize,
			types.PhaseUpdateKeyMapping,
			types.PhaseUpdateKeyState,
			types.PhaseResume,
		}, exec.Phases())
		require.ElementsMatch(t, []types.TaskRef{types.AllTasks(counterID), types.AllTasks(sourceID)}, exec.Calls()[1].Tasks)

		snap := c.ExecutionPlan()
		counter, _ := snap.Operator(counterID)
		source, _ := snap.Operator(sourceID)
		require.Empty(t, cmp.Diff(alloc, counter.KeyState))
		require.Empty(t, cmp.Diff(alloc, source.KeyMapping[counterID]))
	})

	t.Run("stateful flag must match the plan", func(t *testing.T) {
		exec := reconftest.NewRecordingExecutor()
		c := startCoordinator(t, exec)
		caller, _ := completion()

		err := c.Rebalance(t.Context(), sinkID, plan.KeyAllocation{0: span(0, 128)}, true, caller)
		require.ErrorIs(t, err, types.ErrStatelessOperator)

		err = c.Rebalance(t.Context(), counterID, plan.KeyAllocation{0: span(0, 64), 1: span(64, 128)}, false, caller)
		require.ErrorIs(t, err, types.ErrInvalidRequest)

		err = c.Rebalance(t.Context(), counterID, plan.KeyAllocation{0: span(0, 128)}, true, caller)
		require.ErrorIs(t, err, types.ErrAllocationMismatch)

		require.Empty(t, exec.Calls())
	})
}

func TestCoordinator_ReconfigureFunction(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec)

	logic := plan.NewLogic(map[string]plan.Attribute{
		plan.AttrUDF:     plan.StringAttr("count-v2"),
		plan.AttrVersion: plan.IntAttr(2),
	})
	caller, done := completion()
	require.NoError(t, c.ReconfigureFunction(t.Context(), counterID, logic, caller))
	require.NoError(t, waitFinished(t, done))

	require.Equal(t, []types.Phase{types.PhasePrepare, types.PhaseSynchronize, types.PhaseUpdateFunction}, exec.Phases())

	calls := exec.Calls()
	require.Equal(t, []types.TaskRef{types.AllTasks(counterID)}, calls[1].Tasks)
	require.Equal(t, types.AllInstances, calls[2].Offset)

	op, _ := c.ExecutionPlan().Operator(counterID)
	require.True(t, logic.Equal(op.Logic))

	err := c.ReconfigureFunction(t.Context(), counterID, nil, caller)
	require.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestCoordinator_NoOp(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec)
	before := c.ExecutionPlan()

	caller, done := completion()
	require.NoError(t, c.NoOp(t.Context(), sinkID, caller))
	require.NoError(t, waitFinished(t, done))

	require.Equal(t, []types.Phase{types.PhaseSynchronize, types.PhaseResume}, exec.Phases())
	require.Empty(t, cmp.Diff(before, c.ExecutionPlan()))

	require.ErrorIs(t, c.NoOp(t.Context(), 99, caller), types.ErrOperatorNotFound)
}

func TestCoordinator_RejectsConcurrentRequest(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec)
	entered, release := exec.Gate(types.PhaseSynchronize)

	alloc := plan.KeyAllocation{0: span(0, 43), 1: span(43, 86), 2: span(86, 128)}
	first, firstDone := completion()
	require.NoError(t, c.Rescale(t.Context(), counterID, 3, alloc, first))

	<-entered
	require.True(t, c.Busy())

	second, secondDone := completion()
	err := c.NoOp(t.Context(), sinkID, second)
	require.ErrorIs(t, err, types.ErrReconfigurationInProgress)
	err = c.Rebalance(t.Context(), sinkID, plan.KeyAllocation{0: span(0, 128)}, false, second)
	require.ErrorIs(t, err, types.ErrReconfigurationInProgress)

	release()
	require.NoError(t, waitFinished(t, firstDone))

	select {
	case <-secondDone:
		t.Fatal("rejected caller must not be notified")
	default:
	}

	require.Equal(t, []types.Phase{
		types.PhasePrepare,
		types.PhaseSynchronize,
		types.PhaseUpdateKeyMapping,
		types.PhaseUpdateKeyState,
		types.PhaseResize,
		types.PhaseResume,
	}, exec.Phases())

	// The owner is released once the protocol finished.
	require.NoError(t, c.NoOp(t.Context(), sinkID, second))
	require.NoError(t, waitFinished(t, secondDone))
}

func TestCoordinator_PhaseFailureLeavesPlanProvisional(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	boom := errors.New("state transfer failed")
	exec.FailPhase(types.PhaseUpdateKeyState, boom)

	results := make(chan types.Result, 1)
	hooks := &types.Hooks{
		OnReconfigured: func(_ context.Context, r types.Result) error {
			results <- r
			return nil
		},
	}
	c := startCoordinator(t, exec, WithHooks(hooks))

	alloc := plan.KeyAllocation{0: span(0, 43), 1: span(43, 86), 2: span(86, 128)}
	caller, done := completion()
	require.NoError(t, c.Rescale(t.Context(), counterID, 3, alloc, caller))

	err := waitFinished(t, done)
	require.ErrorIs(t, err, types.ErrPhaseFailed)
	require.ErrorIs(t, err, boom)

	var phaseErr *types.PhaseError
	require.ErrorAs(t, err, &phaseErr)
	require.Equal(t, types.PhaseUpdateKeyState, phaseErr.Phase)
	require.Equal(t, types.KindRescale, phaseErr.Kind)

	require.Zero(t, exec.Count(types.PhaseResize))
	require.Zero(t, exec.Count(types.PhaseResume))

	snap := c.ExecutionPlan()
	require.True(t, snap.Provisional)
	require.Contains(t, snap.FailureCause, "state transfer failed")
	require.Zero(t, snap.Version)
	parallelism, _ := snap.Parallelism(counterID)
	require.Equal(t, 3, parallelism)

	select {
	case r := <-results:
		require.Equal(t, types.KindRescale, r.Kind)
		require.ErrorIs(t, r.Err, boom)
		require.Equal(t, types.PhaseUpdateKeyState, r.Phases[len(r.Phases)-1])
		require.NotEmpty(t, r.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("OnReconfigured not called")
	}

	// A later successful reconfiguration repairs the plan.
	exec.FailPhase(types.PhaseUpdateKeyState, nil)
	caller, done = completion()
	require.NoError(t, c.Rebalance(t.Context(), counterID, alloc, true, caller))
	require.NoError(t, waitFinished(t, done))

	snap = c.ExecutionPlan()
	require.False(t, snap.Provisional)
	require.Empty(t, snap.FailureCause)
	require.Equal(t, uint64(1), snap.Version)
}

func TestCoordinator_PhaseTimeout(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	_, release := exec.Gate(types.PhasePrepare)
	defer release()

	c := startCoordinator(t, exec, WithPhaseTimeout(50*time.Millisecond))

	caller, done := completion()
	require.NoError(t, c.NoOp(t.Context(), sinkID, caller))
	require.NoError(t, waitFinished(t, done))

	caller, done = completion()
	require.NoError(t, c.ReconfigureFunction(t.Context(), sinkID, plan.Logic{}, caller))
	err := waitFinished(t, done)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, c.ExecutionPlan().Provisional)
}

type memoryStore struct {
	mu    sync.Mutex
	snap  *plan.Snapshot
	saves int
}

func (s *memoryStore) Save(_ context.Context, snap *plan.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap != nil && snap.Term < s.snap.Term {
		return types.ErrStaleTerm
	}
	s.snap = snap.Clone()
	s.saves++

	return nil
}

func (s *memoryStore) Load(_ context.Context) (*plan.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		return nil, types.ErrSnapshotNotFound
	}

	return s.snap.Clone(), nil
}

func TestCoordinator_PersistsAndRestoresPlan(t *testing.T) {
	store := &memoryStore{}
	exec := reconftest.NewRecordingExecutor()
	c := startCoordinator(t, exec, WithPlanStore(store))

	alloc := plan.KeyAllocation{0: span(0, 43), 1: span(43, 86), 2: span(86, 128)}
	caller, done := completion()
	require.NoError(t, c.Rescale(t.Context(), counterID, 3, alloc, caller))
	require.NoError(t, waitFinished(t, done))

	stored, err := store.Load(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(1), stored.Version)
	require.Equal(t, types.Term(7), stored.Term)

	// A no-op does not persist.
	caller, done = completion()
	require.NoError(t, c.NoOp(t.Context(), counterID, caller))
	require.NoError(t, waitFinished(t, done))
	require.Equal(t, 1, store.saves)

	waitClosed(t, c.Close())

	next, err := New(8, newSeed(t), reconftest.NewRecordingExecutor(), WithPlanStore(store))
	require.NoError(t, err)
	_, err = next.Start(t.Context())
	require.NoError(t, err)
	defer func() { waitClosed(t, next.Close()) }()

	snap := next.ExecutionPlan()
	require.Equal(t, uint64(1), snap.Version)
	require.Equal(t, types.Term(8), snap.Term)
	parallelism, _ := snap.Parallelism(counterID)
	require.Equal(t, 3, parallelism)
}

func TestCoordinator_Lifecycle(t *testing.T) {
	t.Run("requests before start are rejected", func(t *testing.T) {
		c, err := New(1, newSeed(t), reconftest.NewRecordingExecutor())
		require.NoError(t, err)

		caller, _ := completion()
		require.ErrorIs(t, c.NoOp(t.Context(), sinkID, caller), types.ErrCoordinatorNotStarted)
		require.NotNil(t, c.ExecutionPlan())
	})

	t.Run("close before start terminates immediately", func(t *testing.T) {
		c, err := New(1, newSeed(t), reconftest.NewRecordingExecutor())
		require.NoError(t, err)

		waitClosed(t, c.Close())
		waitClosed(t, c.Close())

		_, err = c.Start(t.Context())
		require.ErrorIs(t, err, types.ErrCoordinatorClosed)

		caller, _ := completion()
		require.ErrorIs(t, c.NoOp(t.Context(), sinkID, caller), types.ErrCoordinatorClosed)
	})

	t.Run("start twice fails", func(t *testing.T) {
		c := startCoordinator(t, reconftest.NewRecordingExecutor(), WithAddress("10.0.0.1:7000"))

		_, err := c.Start(t.Context())
		require.ErrorIs(t, err, types.ErrAlreadyStarted)
	})

	t.Run("start reports address", func(t *testing.T) {
		c, err := New(1, newSeed(t), reconftest.NewRecordingExecutor(), WithAddress("10.0.0.1:7000"))
		require.NoError(t, err)

		addr, err := c.Start(t.Context())
		require.NoError(t, err)
		require.Equal(t, "10.0.0.1:7000", addr)
		waitClosed(t, c.Close())

		caller, _ := completion()
		require.ErrorIs(t, c.NoOp(t.Context(), sinkID, caller), types.ErrCoordinatorClosed)
	})

	t.Run("close drains in-flight reconfiguration", func(t *testing.T) {
		exec := reconftest.NewRecordingExecutor()
		entered, release := exec.Gate(types.PhaseResume)

		c, err := New(1, newSeed(t), exec)
		require.NoError(t, err)
		_, err = c.Start(t.Context())
		require.NoError(t, err)

		caller, done := completion()
		require.NoError(t, c.NoOp(t.Context(), sinkID, caller))
		<-entered

		closed := c.Close()
		select {
		case <-closed:
			t.Fatal("close returned while a reconfiguration was in flight")
		case <-time.After(50 * time.Millisecond):
		}

		release()
		require.NoError(t, waitFinished(t, done))
		waitClosed(t, closed)
	})

	t.Run("invalid construction", func(t *testing.T) {
		_, err := New(1, newSeed(t), nil)
		require.ErrorIs(t, err, types.ErrInvalidConfig)

		_, err = New(1, &plan.Snapshot{MaxKeyGroups: 0}, reconftest.NewRecordingExecutor())
		require.ErrorIs(t, err, types.ErrInvalidConfig)
	})
}

type recordingPolicy struct {
	mu       sync.Mutex
	started  []types.Term
	stopped  int
	finished []error
}

func (p *recordingPolicy) Start(_ context.Context, c *Coordinator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, c.Term())

	return nil
}

func (p *recordingPolicy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *recordingPolicy) OnUpdateFinished(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, err)
}

func TestCoordinator_PolicyLifecycle(t *testing.T) {
	pol := &recordingPolicy{}

	c, err := New(3, newSeed(t), reconftest.NewRecordingExecutor(), WithPolicies(pol))
	require.NoError(t, err)
	_, err = c.Start(t.Context())
	require.NoError(t, err)

	pol.mu.Lock()
	require.Equal(t, []types.Term{3}, pol.started)
	pol.mu.Unlock()

	waitClosed(t, c.Close())

	pol.mu.Lock()
	defer pol.mu.Unlock()
	require.Equal(t, 1, pol.stopped)
}

func TestFactory(t *testing.T) {
	exec := reconftest.NewRecordingExecutor()
	var terms []types.Term

	f, err := NewFactory(newSeed(t), func(term types.Term) (Executor, error) {
		terms = append(terms, term)
		return exec, nil
	})
	require.NoError(t, err)
	require.Nil(t, f.Active())

	proc, err := f.Create(1)
	require.NoError(t, err)
	first, ok := proc.(*Coordinator)
	require.True(t, ok)
	require.Same(t, first, f.Active())

	_, err = first.Start(t.Context())
	require.NoError(t, err)

	alloc := plan.KeyAllocation{0: span(0, 43), 1: span(43, 86), 2: span(86, 128)}
	caller, done := completion()
	require.NoError(t, first.Rescale(t.Context(), counterID, 3, alloc, caller))
	require.NoError(t, waitFinished(t, done))
	waitClosed(t, first.Close())

	proc, err = f.Create(2)
	require.NoError(t, err)
	second := proc.(*Coordinator)
	require.Equal(t, types.Term(2), second.Term())

	parallelism, _ := second.ExecutionPlan().Parallelism(counterID)
	require.Equal(t, 3, parallelism)
	require.Equal(t, []types.Term{1, 2}, terms)

	_, err = NewFactory(nil, nil)
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	failing, err := NewFactory(newSeed(t), func(types.Term) (Executor, error) {
		return nil, errors.New("no route to executor")
	})
	require.NoError(t, err)
	_, err = failing.Create(1)
	require.Error(t, err)
}

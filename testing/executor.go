package testing

import (
	"context"
	"slices"
	"sync"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// Call is one executor call observed by a RecordingExecutor.
type Call struct {
	Phase      types.Phase
	OperatorID int
	Offset     int
	Tasks      []types.TaskRef
	Plan       *plan.Snapshot
	Deploy     bool
}

// RecordingExecutor is an in-memory remote executor that records every call.
//
// Failures can be injected per phase, and a phase can be gated so that a test
// controls when the call returns. It is safe for concurrent use.
//
// Example:
//
//	exec := reconftest.NewRecordingExecutor()
//	exec.FailPhase(types.PhaseUpdateKeyState, errors.New("state transfer failed"))
//	c, _ := coordinator.New(1, seed, exec)
type RecordingExecutor struct {
	mu       sync.Mutex
	calls    []Call
	failures map[types.Phase]error
	gates    map[types.Phase]*gate
}

type gate struct {
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	enterOne sync.Once
}

// NewRecordingExecutor creates an executor that acknowledges every call.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{
		failures: make(map[types.Phase]error),
		gates:    make(map[types.Phase]*gate),
	}
}

// FailPhase makes every call of phase return err. A nil err clears the failure.
func (r *RecordingExecutor) FailPhase(phase types.Phase, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		delete(r.failures, phase)
		return
	}
	r.failures[phase] = err
}

// Gate blocks calls of phase until release is called.
//
// Returns:
//   - <-chan struct{}: Closed when the first gated call arrives
//   - func(): Releases every blocked and future call of phase
func (r *RecordingExecutor) Gate(phase types.Phase) (<-chan struct{}, func()) {
	g := &gate{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	r.mu.Lock()
	r.gates[phase] = g
	r.mu.Unlock()

	return g.entered, func() {
		g.once.Do(func() { close(g.release) })
	}
}

// Calls returns every recorded call in order.
func (r *RecordingExecutor) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.calls)
}

// Phases returns the phase of every recorded call in order.
func (r *RecordingExecutor) Phases() []types.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()

	phases := make([]types.Phase, 0, len(r.calls))
	for _, c := range r.calls {
		phases = append(phases, c.Phase)
	}

	return phases
}

// Count returns how many calls of phase were recorded.
func (r *RecordingExecutor) Count(phase types.Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.calls {
		if c.Phase == phase {
			n++
		}
	}

	return n
}

// Reset forgets recorded calls. Failures and gates are kept.
func (r *RecordingExecutor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = nil
}

func (r *RecordingExecutor) record(ctx context.Context, call Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	err := r.failures[call.Phase]
	g := r.gates[call.Phase]
	r.mu.Unlock()

	if g != nil {
		g.enterOne.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// PrepareExecutionPlan records a Prepare call.
func (r *RecordingExecutor) PrepareExecutionPlan(ctx context.Context, snapshot *plan.Snapshot, operatorID int) error {
	return r.record(ctx, Call{Phase: types.PhasePrepare, OperatorID: operatorID, Offset: types.AllInstances, Plan: snapshot.Clone()})
}

// SynchronizeTasks records a Synchronize call.
func (r *RecordingExecutor) SynchronizeTasks(ctx context.Context, tasks []types.TaskRef) error {
	return r.record(ctx, Call{Phase: types.PhaseSynchronize, Tasks: slices.Clone(tasks)})
}

// UpdateKeyMapping records an UpdateKeyMapping call.
func (r *RecordingExecutor) UpdateKeyMapping(ctx context.Context, tasks []types.TaskRef) error {
	return r.record(ctx, Call{Phase: types.PhaseUpdateKeyMapping, Tasks: slices.Clone(tasks)})
}

// UpdateKeyState records an UpdateKeyState call.
func (r *RecordingExecutor) UpdateKeyState(ctx context.Context, tasks []types.TaskRef) error {
	return r.record(ctx, Call{Phase: types.PhaseUpdateKeyState, Tasks: slices.Clone(tasks)})
}

// DeployTasks records a Resize call that starts an instance.
func (r *RecordingExecutor) DeployTasks(ctx context.Context, operatorID, offset int) error {
	return r.record(ctx, Call{Phase: types.PhaseResize, OperatorID: operatorID, Offset: offset, Deploy: true})
}

// CancelTasks records a Resize call that stops an instance.
func (r *RecordingExecutor) CancelTasks(ctx context.Context, operatorID, offset int) error {
	return r.record(ctx, Call{Phase: types.PhaseResize, OperatorID: operatorID, Offset: offset})
}

// UpdateFunction records an UpdateFunction call.
func (r *RecordingExecutor) UpdateFunction(ctx context.Context, operatorID, offset int) error {
	return r.record(ctx, Call{Phase: types.PhaseUpdateFunction, OperatorID: operatorID, Offset: offset})
}

// ResumeTasks records a Resume call.
func (r *RecordingExecutor) ResumeTasks(ctx context.Context) error {
	return r.record(ctx, Call{Phase: types.PhaseResume})
}

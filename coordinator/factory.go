package coordinator

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// ExecutorFactory creates the executor used by the coordinator of one term.
type ExecutorFactory func(term types.Term) (Executor, error)

// Factory creates one Coordinator per leadership term.
//
// Each coordinator is seeded with the latest plan of the previous one, so
// the plan carries over leader changes within a process even without a
// plan store.
type Factory struct {
	seed        *plan.Snapshot
	newExecutor ExecutorFactory
	opts        []Option
	active      atomic.Pointer[Coordinator]
}

var _ types.LeaderProcessFactory = (*Factory)(nil)

// NewFactory creates a coordinator factory.
//
// Parameters:
//   - seed: Plan used by the first coordinator
//   - newExecutor: Creates the executor for each term
//   - opts: Options applied to every coordinator
//
// Returns:
//   - *Factory: Factory to pass to reconf.NewManager
//   - error: Missing seed or executor factory
func NewFactory(seed *plan.Snapshot, newExecutor ExecutorFactory, opts ...Option) (*Factory, error) {
	if seed == nil {
		return nil, fmt.Errorf("%w: seed plan is required", types.ErrInvalidConfig)
	}
	if newExecutor == nil {
		return nil, fmt.Errorf("%w: executor factory is required", types.ErrInvalidConfig)
	}

	return &Factory{
		seed:        seed.Clone(),
		newExecutor: newExecutor,
		opts:        opts,
	}, nil
}

// Create implements types.LeaderProcessFactory.
func (f *Factory) Create(term types.Term) (types.LeaderProcess, error) {
	exec, err := f.newExecutor(term)
	if err != nil {
		return nil, fmt.Errorf("create executor for term %d: %w", term, err)
	}
	if exec == nil {
		return nil, errors.New("executor factory returned nil")
	}

	seed := f.seed
	if prev := f.active.Load(); prev != nil {
		if latest := prev.ExecutionPlan(); latest.Version >= seed.Version {
			seed = latest
		}
	}

	c, err := New(term, seed, exec, f.opts...)
	if err != nil {
		return nil, err
	}
	f.active.Store(c)

	return c, nil
}

// Active returns the most recently created coordinator, or nil.
func (f *Factory) Active() *Coordinator {
	return f.active.Load()
}

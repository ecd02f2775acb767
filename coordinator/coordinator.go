package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/reconf/internal/hooks"
	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/internal/metrics"
	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

const defaultPersistTimeout = 5 * time.Second

const (
	stateCreated int32 = iota
	stateServing
	stateClosed
)

// Coordinator is the reconfiguration coordinator for one leadership term.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - The execution plan is only touched on the main loop
//   - ExecutionPlan returns a private copy of the latest snapshot
//
// Lifecycle:
//   - Create with New()
//   - Call Start() to restore persisted state and begin serving
//   - Call Close() to drain the in-flight reconfiguration and stop
type Coordinator struct {
	term     types.Term
	executor Executor

	logger         types.Logger
	metrics        types.MetricsCollector
	hooks          *types.Hooks
	store          PlanStore
	address        string
	phaseTimeout   time.Duration
	persistTimeout time.Duration
	policies       *xsync.Map[int, Policy]

	// Main-loop owned state
	plan    *plan.ExecutionPlan
	owner   types.ControlPolicy
	closing bool

	current atomic.Pointer[plan.Snapshot]
	state   atomic.Int32
	looping atomic.Bool

	mailbox  chan func()
	quit     chan struct{}
	loopDone chan struct{}

	ctx     context.Context //nolint:containedctx // lifecycle context for policies and hooks
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	protoWG sync.WaitGroup

	mu      sync.Mutex
	closeCh chan error
	done    chan struct{}
}

var _ types.LeaderProcess = (*Coordinator)(nil)

// New creates a coordinator for term from a plan snapshot.
//
// Parameters:
//   - term: Leadership term the coordinator serves
//   - seed: Initial plan; a newer plan in the plan store takes precedence on Start
//   - executor: Remote executor driven by the protocol
//   - opts: Optional configuration
//
// Returns:
//   - *Coordinator: Coordinator ready to Start
//   - error: Invalid seed plan or missing executor
//
// Example:
//
//	c, err := coordinator.New(term, seed, executor.NewClient(nc, "reconf.exec"),
//	    coordinator.WithLogger(logger),
//	    coordinator.WithPlanStore(store),
//	)
func New(term types.Term, seed *plan.Snapshot, executor Executor, opts ...Option) (*Coordinator, error) {
	if executor == nil {
		return nil, fmt.Errorf("%w: executor is required", types.ErrInvalidConfig)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	if o.persistTimeout <= 0 {
		o.persistTimeout = defaultPersistTimeout
	}

	p, err := plan.FromSnapshot(seed, plan.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("%w: seed plan: %w", types.ErrInvalidConfig, err)
	}

	c := &Coordinator{
		term:           term,
		executor:       executor,
		logger:         o.logger,
		metrics:        o.metrics,
		hooks:          hooks.WithDefaults(o.hooks),
		store:          o.store,
		address:        o.address,
		phaseTimeout:   o.phaseTimeout,
		persistTimeout: o.persistTimeout,
		policies:       xsync.NewMap[int, Policy](),
		plan:           p,
		mailbox:        make(chan func()),
		quit:           make(chan struct{}),
		loopDone:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for i, pol := range o.policies {
		c.policies.Store(i, pol)
	}

	c.publish()

	return c, nil
}

// Term returns the leadership term the coordinator serves.
func (c *Coordinator) Term() types.Term {
	return c.term
}

// Start restores the newest persisted plan, starts the main loop and the
// registered policies, and reports the serving address.
//
// Parameters:
//   - ctx: Bounds plan restoration
//
// Returns:
//   - string: Address configured with WithAddress
//   - error: Restore failure, policy start failure, or ErrCoordinatorClosed
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closeCh != nil {
		c.mu.Unlock()
		return "", types.ErrCoordinatorClosed
	}
	if c.state.Load() != stateCreated {
		c.mu.Unlock()
		return "", fmt.Errorf("coordinator: %w", types.ErrAlreadyStarted)
	}

	if err := c.restore(ctx); err != nil {
		c.mu.Unlock()
		return "", err
	}

	c.loopWG.Add(1)
	c.looping.Store(true)
	go c.run()
	c.state.Store(stateServing)
	c.mu.Unlock()

	var startErr error
	c.policies.Range(func(idx int, pol Policy) bool {
		if err := pol.Start(c.ctx, c); err != nil {
			startErr = fmt.Errorf("start policy %d: %w", idx, err)
			return false
		}

		return true
	})
	if startErr != nil {
		return "", startErr
	}

	snap := c.current.Load()
	c.logger.Info("coordinator serving",
		"term", c.term,
		"plan_version", snap.Version,
		"operators", len(snap.Operators),
		"address", c.address,
	)

	return c.address, nil
}

// restore swaps in the stored plan when it is at least as new as the seed.
func (c *Coordinator) restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	stored, err := c.store.Load(ctx)
	if errors.Is(err, types.ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load plan snapshot: %w", err)
	}

	if stored.Version < c.plan.Version() {
		c.logger.Warn("ignoring stored plan older than seed",
			"stored_version", stored.Version,
			"seed_version", c.plan.Version(),
		)

		return nil
	}

	restored, err := plan.FromSnapshot(stored, plan.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("restore plan snapshot: %w", err)
	}

	c.plan = restored
	c.publish()
	c.logger.Info("restored plan from store",
		"plan_version", stored.Version,
		"stored_term", stored.Term,
		"provisional", stored.Provisional,
	)

	return nil
}

// Close drains the in-flight reconfiguration, stops policies and the main loop.
//
// The returned channel yields the teardown error, if any, and is closed once
// the coordinator has terminated. Closing a coordinator that was never started
// terminates immediately. Later calls return a channel that closes on termination.
func (c *Coordinator) Close() <-chan error {
	c.mu.Lock()
	if c.closeCh != nil {
		c.mu.Unlock()
		return c.waitDone()
	}

	ch := make(chan error, 1)
	c.closeCh = ch
	serving := c.state.Swap(stateClosed) == stateServing
	c.mu.Unlock()

	if !serving {
		c.cancel()
		close(c.done)
		close(ch)

		return ch
	}

	go func() {
		defer close(ch)
		defer close(c.done)

		if err := c.shutdown(); err != nil {
			ch <- err
		}
	}()

	return ch
}

func (c *Coordinator) waitDone() <-chan error {
	ch := make(chan error)
	go func() {
		<-c.done
		close(ch)
	}()

	return ch
}

func (c *Coordinator) shutdown() error {
	c.logger.Info("coordinator closing", "term", c.term)

	// Reject new requests; the in-flight one keeps running.
	_ = c.call(context.Background(), func() error {
		c.closing = true
		return nil
	})

	c.policies.Range(func(_ int, pol Policy) bool {
		pol.Stop()
		return true
	})

	c.protoWG.Wait()
	c.cancel()

	close(c.quit)
	c.loopWG.Wait()

	c.logger.Info("coordinator closed", "term", c.term)

	return nil
}

// ExecutionPlan returns a copy of the latest plan snapshot.
func (c *Coordinator) ExecutionPlan() *plan.Snapshot {
	return c.current.Load().Clone()
}

// Busy reports whether a reconfiguration is in flight.
func (c *Coordinator) Busy() bool {
	busy := false
	err := c.call(context.Background(), func() error {
		busy = c.owner != nil
		return nil
	})

	return err == nil && busy
}

// publish stores an immutable snapshot of the current plan. Main loop only.
func (c *Coordinator) publish() *plan.Snapshot {
	snap := c.plan.Snapshot()
	snap.Term = c.term
	c.current.Store(snap)

	return snap
}

// run is the main loop. Every function received on the mailbox runs to completion
// before the next one starts.
func (c *Coordinator) run() {
	defer c.loopWG.Done()
	defer close(c.loopDone)

	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.quit:
			for {
				select {
				case fn := <-c.mailbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// call runs fn on the main loop and returns its result.
func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	if !c.looping.Load() {
		if c.state.Load() == stateClosed {
			return types.ErrCoordinatorClosed
		}

		return types.ErrCoordinatorNotStarted
	}

	done := make(chan error, 1)
	select {
	case c.mailbox <- func() { done <- fn() }:
	case <-c.loopDone:
		return types.ErrCoordinatorClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-done
}

package reconf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/reconf/internal/election"
	"github.com/arloliu/reconf/internal/hooks"
	"github.com/arloliu/reconf/internal/kvutil"
	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/internal/metrics"
)

// electionKey is the leader key inside the election bucket.
const electionKey = "leader"

// stateWaiterBuffer is how many transitions a WaitState subscriber can lag behind.
const stateWaiterBuffer = 16

// Manager runs the leadership lifecycle of one control-plane node.
//
// Manager is the main entry point of the reconf library. It handles:
//   - Participation in leader election through a LeaderElectionService
//   - Creating one LeaderProcess per granted term through a LeaderProcessFactory
//   - Starting each new process only after the previous one has terminated
//   - Confirming leadership once the new process serves
//   - Escalating lifecycle failures to the FatalErrorHandler
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Election callbacks never block on a leader process
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Start() to join the election
//   - Use ActiveProcess() or the factory to reach the serving coordinator
//   - Call Stop() for graceful shutdown
type Manager struct {
	cfg     Config
	conn    *nats.Conn
	factory LeaderProcessFactory

	election     LeaderElectionService
	hooks        *Hooks
	metrics      MetricsCollector
	logger       Logger
	fatalHandler FatalErrorHandler

	// State management
	state         atomic.Int32 // State
	stateSince    atomic.Int64 // unix nanos of the last transition
	waiters       *xsync.Map[uint64, chan State]
	waiterSeq     atomic.Uint64
	activeTerm    atomic.Uint64
	fatalReported atomic.Bool

	// Guarded by mu
	process     LeaderProcess
	term        Term
	termination <-chan struct{} // closed once every earlier process has terminated
	closed      bool

	// Lifecycle management
	ctx    context.Context //nolint:containedctx // manager lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

var _ LeaderContender = (*Manager)(nil)

// NewManager creates a new Manager instance with the provided configuration.
//
// Returns a concrete *Manager struct following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Runtime configuration; missing values are filled with defaults
//   - conn: NATS connection for the election bucket; may be nil with WithElectionService
//   - factory: Creates the leader process for each granted term (usually *coordinator.Factory)
//   - opts: Optional configuration (election service, hooks, metrics, logger, fatal handler)
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := reconf.DefaultConfig()
//	cfg.CandidateID = "control-0"
//	mgr, err := reconf.NewManager(&cfg, nc, factory, reconf.WithLogger(logger))
func NewManager(cfg *Config, conn *nats.Conn, factory LeaderProcessFactory, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if factory == nil {
		return nil, ErrProcessFactoryRequired
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if conn == nil && options.election == nil {
		return nil, ErrNATSConnectionRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	fatalHandler := options.fatalHandler
	if fatalHandler == nil {
		fatalHandler = FatalErrorHandlerFunc(func(err error) {
			loggerInstance.Fatal("leadership lifecycle failed", "error", err)
		})
	}

	m := &Manager{
		cfg:          *cfg,
		conn:         conn,
		factory:      factory,
		election:     options.election,
		hooks:        hooks.WithDefaults(options.hooks),
		metrics:      metricsCollector,
		logger:       loggerInstance,
		fatalHandler: fatalHandler,
		waiters:      xsync.NewMap[uint64, chan State](),
	}

	m.state.Store(int32(StateStopped))
	m.stateSince.Store(time.Now().UnixNano())

	return m, nil
}

// Start joins the leader election.
//
// Unless WithElectionService was given, Start opens the election bucket with
// a TTL of ElectionTimeout and runs a NATS KV lease election. Start returns
// once the candidate participates; leadership arrives asynchronously.
//
// Parameters:
//   - ctx: Context for bucket setup
//
// Returns:
//   - error: Startup error, ErrAlreadyStarted, or context cancellation
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if err := m.startElection(ctx); err != nil {
		m.mu.Lock()
		m.cancel()
		m.ctx, m.cancel = nil, nil
		m.mu.Unlock()

		return err
	}

	m.logger.Info("manager started",
		"candidate_id", m.cfg.CandidateID,
		"election_bucket", m.cfg.KVBuckets.ElectionBucket,
	)

	return nil
}

func (m *Manager) startElection(ctx context.Context) error {
	m.mu.Lock()
	svc := m.election
	m.mu.Unlock()

	if svc == nil {
		kv, err := kvutil.Open(ctx, m.conn, m.cfg.KVBuckets.ElectionBucket, m.cfg.ElectionTimeout)
		if err != nil {
			return fmt.Errorf("failed to open election bucket: %w", err)
		}

		agent := election.NewNATSElection(kv, electionKey)
		svc = election.NewService(agent, m.cfg.CandidateID, m.cfg.ElectionTimeout, m.logger)

		m.mu.Lock()
		m.election = svc
		m.mu.Unlock()
	}

	if err := svc.Start(ctx, m); err != nil {
		return fmt.Errorf("%w: %w", ErrElectionFailed, err)
	}

	return nil
}

// Stop tears down the active leader process and leaves the election.
//
// The lease is released only after every leader process this manager created
// has terminated, so a successor never overlaps with this node's coordinator.
// Safe to call multiple times - subsequent calls will return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: Shutdown error or timeout
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx == nil || m.closed {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.closed = true
	term := m.term
	terminated := m.stopLeaderProcessLocked()
	m.transitionLocked(StateShutdown)
	svc := m.election
	m.mu.Unlock()

	if term != 0 {
		m.metrics.RecordLeadershipChange(term, false)
	}

	// Step 1: wait for the leader process to terminate
	if terminated != nil {
		select {
		case <-terminated:
		case <-ctx.Done():
			m.logger.Error("shutdown timeout exceeded, leader process may still be running", "term", term)
			m.cancel()

			return fmt.Errorf("leader process teardown: %w", ctx.Err())
		}
	}

	var shutdownErr error

	// Step 2: leave the election and release a held lease
	if err := svc.Stop(ctx); err != nil {
		m.logger.Error("failed to stop election", "error", err)
		shutdownErr = fmt.Errorf("election stop failed: %w", err)
	}

	// Step 3: abort pending starts, then wait for all background goroutines
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("manager stopped gracefully", "candidate_id", m.cfg.CandidateID)
		return shutdownErr
	case <-ctx.Done():
		m.logger.Error("shutdown timeout exceeded, some goroutines may still be running")
		if shutdownErr == nil {
			return ctx.Err()
		}

		return fmt.Errorf("shutdown timeout: %w; additional error: %w", ctx.Err(), shutdownErr)
	}
}

// GrantLeadership starts a leader process for term.
//
// The previous process, if any, is closed first, and the new one starts only
// after every earlier process has terminated. GrantLeadership itself does not
// block on either.
func (m *Manager) GrantLeadership(term Term) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	previous := m.stopLeaderProcessLocked()

	proc, err := m.factory.Create(term)
	if err != nil {
		if m.State() == StateRunning || m.State() == StateStarting {
			m.transitionLocked(StateStopped)
		}
		m.escalate(fmt.Errorf("%w: create leader process for term %d: %w", ErrLifecycle, term, err))

		return
	}

	m.process = proc
	m.term = term
	m.transitionLocked(StateStarting)

	m.logger.Info("leadership granted", "term", term, "candidate_id", m.cfg.CandidateID)

	m.wg.Add(1)
	go m.startLeaderProcess(term, proc, previous)
}

// RevokeLeadership asks the active leader process to stop without waiting for it.
func (m *Manager) RevokeLeadership() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.process == nil {
		return
	}

	term := m.term
	m.stopLeaderProcessLocked()
	m.transitionLocked(StateStopped)
	m.metrics.RecordLeadershipChange(term, false)

	m.logger.Warn("leadership revoked", "term", term, "candidate_id", m.cfg.CandidateID)
}

// HandleError escalates an unrecoverable election failure.
func (m *Manager) HandleError(err error) {
	m.escalate(fmt.Errorf("%w: %w", ErrLifecycle, err))
}

// State returns the current lifecycle state.
//
// Returns:
//   - State: Current state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Term returns the term of the running leader process, or zero.
func (m *Manager) Term() Term {
	return Term(m.activeTerm.Load())
}

// ActiveProcess returns the leader process of the current term.
//
// The process may still be starting; check State for StateRunning.
//
// Returns:
//   - LeaderProcess: Current process, nil when not leader
//   - Term: Its term, zero when not leader
func (m *Manager) ActiveProcess() (LeaderProcess, Term) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.process, m.term
}

// WaitState waits for the manager to reach the expected state within the timeout period.
//
// The method returns a read-only channel that will receive exactly one value:
//   - nil if the expected state is reached within the timeout
//   - context.DeadlineExceeded if the timeout expires before reaching the state
//
// The channel is closed after sending the result, allowing safe use in select statements.
//
// Parameters:
//   - expectedState: The state to wait for
//   - timeout: Maximum duration to wait for the state
//
// Returns:
//   - <-chan error: A channel that receives the result (nil on success, error on timeout)
//
// Example:
//
//	if err := <-mgr.WaitState(reconf.StateRunning, 10*time.Second); err != nil {
//	    return fmt.Errorf("not leading: %w", err)
//	}
func (m *Manager) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	id := m.waiterSeq.Add(1)
	updates := make(chan State, stateWaiterBuffer)
	m.waiters.Store(id, updates)

	go func() {
		defer close(ch)
		defer m.waiters.Delete(id)

		if m.State() == expectedState {
			ch <- nil
			return
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case s := <-updates:
				if s == expectedState {
					ch <- nil
					return
				}
			case <-timer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// startLeaderProcess waits for the previous termination, then starts proc and confirms term.
func (m *Manager) startLeaderProcess(term Term, proc LeaderProcess, previous <-chan struct{}) {
	defer m.wg.Done()

	if previous != nil {
		select {
		case <-previous:
		case <-m.ctx.Done():
			return
		}
	}

	if !m.isCurrent(proc) {
		m.logger.Debug("leader process superseded before start", "term", term)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.StartupTimeout)
	address, err := proc.Start(ctx)
	cancel()

	if err != nil {
		if !m.isCurrent(proc) || m.ctx.Err() != nil {
			m.logger.Debug("superseded leader process failed to start", "term", term, "error", err)
			return
		}

		m.escalate(fmt.Errorf("%w: start leader process for term %d: %w", ErrLifecycle, term, err))

		return
	}

	if address == "" {
		address = m.cfg.Address
	}

	m.mu.Lock()
	if m.process != proc {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(StateRunning)
	m.activeTerm.Store(uint64(term))
	m.mu.Unlock()

	m.metrics.RecordLeadershipChange(term, true)
	m.confirm(term, address)
}

// confirm publishes address for term, but only while term is still held.
func (m *Manager) confirm(term Term, address string) {
	if !m.election.HasLeadership(term) {
		m.logger.Warn("leadership lost before confirmation", "term", term)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.OperationTimeout)
	defer cancel()

	if err := m.election.ConfirmLeadership(ctx, term, address); err != nil {
		if errors.Is(err, ErrLeadershipLost) {
			m.logger.Warn("leadership lost before confirmation", "term", term, "error", err)
			return
		}

		m.logger.Error("failed to confirm leadership", "term", term, "error", err)
		go func() {
			if hookErr := m.hooks.OnError(m.ctx, err); hookErr != nil {
				m.logger.Error("error hook failed", "error", hookErr)
			}
		}()

		return
	}

	m.logger.Info("leader process running", "term", term, "address", address)
}

// stopLeaderProcessLocked closes the current process and returns a channel
// closed once it and every earlier process have terminated.
func (m *Manager) stopLeaderProcessLocked() <-chan struct{} {
	earlier := m.termination
	if m.process == nil {
		return earlier
	}

	proc, term := m.process, m.term
	m.process = nil
	m.term = 0
	m.activeTerm.Store(0)

	done := make(chan struct{})
	m.termination = done

	closed := proc.Close()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)

		if earlier != nil {
			<-earlier
		}

		if err := <-closed; err != nil {
			m.escalate(fmt.Errorf("%w: close leader process for term %d: %w", ErrLifecycle, term, err))
			return
		}

		m.logger.Info("leader process terminated", "term", term)
	}()

	return done
}

func (m *Manager) isCurrent(proc LeaderProcess) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.process == proc
}

// escalate hands err to the fatal handler. Only the first failure is
// reported, later ones are logged.
func (m *Manager) escalate(err error) {
	if !m.fatalReported.CompareAndSwap(false, true) {
		m.logger.Error("additional lifecycle failure", "error", err)
		return
	}

	m.logger.Error("escalating lifecycle failure", "error", err)
	m.fatalHandler.OnFatalError(err)
}

// transitionLocked moves to a new state and triggers hooks. Callers hold m.mu.
func (m *Manager) transitionLocked(to State) {
	from := m.State()
	if from == to {
		return
	}

	if !isValidTransition(from, to) {
		m.logger.Error("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	m.state.Store(int32(to)) //nolint:gosec // State values are controlled enum

	now := time.Now().UnixNano()
	since := m.stateSince.Swap(now)
	m.metrics.RecordStateTransition(from, to, time.Duration(now-since).Seconds())

	m.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"candidate_id", m.cfg.CandidateID,
	)

	m.waiters.Range(func(_ uint64, updates chan State) bool {
		select {
		case updates <- to:
		default:
		}

		return true
	})

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	// Run hook in background to avoid blocking state machine
	go func() {
		if err := m.hooks.OnStateChanged(ctx, from, to); err != nil {
			m.logger.Error("state change hook error", "from", from, "to", to, "error", err)
		}
	}()
}

// validTransitions lists the allowed state changes.
var validTransitions = map[State][]State{
	StateStopped:  {StateStarting, StateShutdown},
	StateStarting: {StateRunning, StateStopped, StateShutdown},
	StateRunning:  {StateStarting, StateStopped, StateShutdown},
	StateShutdown: {}, // Terminal state - no transitions allowed
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

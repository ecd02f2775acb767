package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/internal/natsutil"
	"github.com/arloliu/reconf/types"
)

// Service runs the election loop for one candidate and drives a LeaderContender.
//
// While following, the loop requests leadership every lease/3; while leading,
// it renews the lease at the same pace. Acquisition grants leadership to the
// contender with the new term, a failed renewal revokes it.
//
// Agent calls are serialized, so ConfirmLeadership never races a renewal.
type Service struct {
	agent       types.ElectionAgent
	candidateID string
	lease       time.Duration
	logger      types.Logger

	opMu    sync.Mutex // serializes agent calls
	mu      sync.RWMutex
	leading bool
	term    types.Term

	contender types.LeaderContender
	ctx       context.Context //nolint:containedctx // loop lifecycle
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ types.LeaderElectionService = (*Service)(nil)

// NewService creates an election service.
//
// Parameters:
//   - agent: Lease backend, usually a NATSElection
//   - candidateID: Identity written into the leader key
//   - lease: Lease duration; must be at least one second
//   - logger: Logger, nil for none
//
// Returns:
//   - *Service: Service ready to Start
func NewService(agent types.ElectionAgent, candidateID string, lease time.Duration, logger types.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Service{
		agent:       agent,
		candidateID: candidateID,
		lease:       lease,
		logger:      logger,
	}
}

// Start joins the election on behalf of contender.
func (s *Service) Start(_ context.Context, contender types.LeaderContender) error {
	if contender == nil {
		return fmt.Errorf("%w: contender is required", types.ErrInvalidConfig)
	}
	if s.lease < time.Second {
		return fmt.Errorf("%w: lease %v shorter than 1s", ErrInvalidDuration, s.lease)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return types.ErrAlreadyStarted
	}
	s.contender = contender
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	return nil
}

// Stop leaves the election and releases a held lease.
//
// The contender is not notified; its owner tears down the leader process itself.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return types.ErrNotStarted
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("election loop did not stop: %w", ctx.Err())
	}

	s.mu.Lock()
	leading := s.leading
	s.leading = false
	s.term = 0
	s.mu.Unlock()

	if !leading {
		return nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.agent.ReleaseLeadership(ctx); err != nil && !errors.Is(err, ErrNotLeader) {
		return fmt.Errorf("release leadership: %w", err)
	}
	s.logger.Info("released leadership", "candidate_id", s.candidateID)

	return nil
}

// HasLeadership reports whether this candidate still leads in term.
func (s *Service) HasLeadership(term types.Term) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.leading && s.term == term
}

// ConfirmLeadership publishes address as the serving address of term.
//
// Returns:
//   - error: types.ErrLeadershipLost when term is no longer held
func (s *Service) ConfirmLeadership(ctx context.Context, term types.Term, address string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.HasLeadership(term) || s.agent.Term() != term {
		return fmt.Errorf("%w: term %d", types.ErrLeadershipLost, term)
	}

	if err := s.agent.PublishAddress(ctx, address); err != nil {
		return fmt.Errorf("publish leader address: %w", err)
	}

	s.logger.Info("leadership confirmed", "term", term, "address", address)

	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.lease / 3)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	s.mu.RLock()
	leading := s.leading
	s.mu.RUnlock()

	if leading {
		s.renew()
	} else {
		s.request()
	}
}

func (s *Service) renew() {
	s.opMu.Lock()
	err := s.agent.RenewLeadership(s.ctx)
	s.opMu.Unlock()

	if err == nil || s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	term := s.term
	s.leading = false
	s.term = 0
	s.mu.Unlock()

	s.logger.Warn("lost leadership", "candidate_id", s.candidateID, "term", term, "error", err)
	s.contender.RevokeLeadership()
}

func (s *Service) request() {
	leaseSeconds := int64(s.lease / time.Second)

	s.opMu.Lock()
	acquired, err := s.agent.RequestLeadership(s.ctx, s.candidateID, leaseSeconds)
	term := s.agent.Term()
	s.opMu.Unlock()

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		if natsutil.IsConnectivityError(err) {
			s.logger.Warn("election backend unreachable", "candidate_id", s.candidateID, "error", err)
			return
		}

		s.contender.HandleError(fmt.Errorf("%w: %w", types.ErrElectionFailed, err))

		return
	}

	if !acquired {
		return
	}

	s.mu.Lock()
	s.leading = true
	s.term = term
	s.mu.Unlock()

	s.logger.Info("acquired leadership", "candidate_id", s.candidateID, "term", term)
	s.contender.GrantLeadership(term)
}

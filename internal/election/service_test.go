package election

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/reconf/internal/logging"
	reconftest "github.com/arloliu/reconf/testing"
	"github.com/arloliu/reconf/types"
)

type fakeAgent struct {
	mu         sync.Mutex
	available  bool
	leading    bool
	term       types.Term
	nextTerm   types.Term
	requestErr error
	renewErr   error
	address    string
	released   bool
}

func (a *fakeAgent) RequestLeadership(context.Context, string, int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.requestErr != nil {
		return false, a.requestErr
	}
	if !a.available {
		return false, nil
	}
	a.nextTerm++
	a.term = a.nextTerm
	a.leading = true

	return true, nil
}

func (a *fakeAgent) RenewLeadership(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.renewErr != nil {
		a.leading = false
		return a.renewErr
	}

	return nil
}

func (a *fakeAgent) ReleaseLeadership(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leading = false
	a.released = true

	return nil
}

func (a *fakeAgent) IsLeader(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.leading, nil
}

func (a *fakeAgent) Term() types.Term {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.leading {
		return 0
	}

	return a.term
}

func (a *fakeAgent) PublishAddress(_ context.Context, address string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.address = address

	return nil
}

func (a *fakeAgent) set(fn func(a *fakeAgent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

type fakeContender struct {
	granted chan types.Term
	revoked chan struct{}
	errs    chan error
}

func newFakeContender() *fakeContender {
	return &fakeContender{
		granted: make(chan types.Term, 8),
		revoked: make(chan struct{}, 8),
		errs:    make(chan error, 8),
	}
}

func (c *fakeContender) GrantLeadership(term types.Term) { c.granted <- term }
func (c *fakeContender) RevokeLeadership()               { c.revoked <- struct{}{} }
func (c *fakeContender) HandleError(err error)           { c.errs <- err }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for election event")

		var zero T
		return zero
	}
}

func TestService_GrantAndConfirm(t *testing.T) {
	agent := &fakeAgent{available: true}
	contender := newFakeContender()
	svc := NewService(agent, "cp-1", time.Second, logging.NewTest(t))

	require.NoError(t, svc.Start(t.Context(), contender))
	defer func() { require.NoError(t, svc.Stop(context.Background())) }()

	term := receive(t, contender.granted)
	require.Equal(t, types.Term(1), term)
	require.True(t, svc.HasLeadership(term))
	require.False(t, svc.HasLeadership(term+1))

	require.NoError(t, svc.ConfirmLeadership(t.Context(), term, "10.0.0.1:7000"))
	agent.set(func(a *fakeAgent) { require.Equal(t, "10.0.0.1:7000", a.address) })

	err := svc.ConfirmLeadership(t.Context(), term+1, "10.0.0.1:7000")
	require.ErrorIs(t, err, types.ErrLeadershipLost)
}

func TestService_RevokeOnRenewFailure(t *testing.T) {
	agent := &fakeAgent{available: true}
	contender := newFakeContender()
	svc := NewService(agent, "cp-1", time.Second, nil)

	require.NoError(t, svc.Start(t.Context(), contender))
	defer func() { _ = svc.Stop(context.Background()) }()

	term := receive(t, contender.granted)

	agent.set(func(a *fakeAgent) {
		a.renewErr = ErrLeadershipLost
		a.available = false
	})
	receive(t, contender.revoked)
	require.False(t, svc.HasLeadership(term))

	err := svc.ConfirmLeadership(t.Context(), term, "10.0.0.1:7000")
	require.ErrorIs(t, err, types.ErrLeadershipLost)

	// Leadership comes back with a higher term.
	agent.set(func(a *fakeAgent) {
		a.renewErr = nil
		a.available = true
	})
	next := receive(t, contender.granted)
	require.Greater(t, next, term)
}

func TestService_ErrorHandling(t *testing.T) {
	t.Run("connectivity errors are retried", func(t *testing.T) {
		agent := &fakeAgent{requestErr: nats.ErrTimeout}
		contender := newFakeContender()
		svc := NewService(agent, "cp-1", time.Second, nil)

		require.NoError(t, svc.Start(t.Context(), contender))
		defer func() { _ = svc.Stop(context.Background()) }()

		select {
		case err := <-contender.errs:
			t.Fatalf("connectivity error escalated: %v", err)
		case <-time.After(500 * time.Millisecond):
		}

		agent.set(func(a *fakeAgent) {
			a.requestErr = nil
			a.available = true
		})
		receive(t, contender.granted)
	})

	t.Run("other errors are escalated", func(t *testing.T) {
		agent := &fakeAgent{requestErr: errors.New("bucket misconfigured")}
		contender := newFakeContender()
		svc := NewService(agent, "cp-1", time.Second, nil)

		require.NoError(t, svc.Start(t.Context(), contender))
		defer func() { _ = svc.Stop(context.Background()) }()

		err := receive(t, contender.errs)
		require.ErrorIs(t, err, types.ErrElectionFailed)
	})
}

func TestService_Lifecycle(t *testing.T) {
	agent := &fakeAgent{available: true}
	svc := NewService(agent, "cp-1", time.Second, nil)

	require.ErrorIs(t, svc.Stop(t.Context()), types.ErrNotStarted)
	require.ErrorIs(t, svc.Start(t.Context(), nil), types.ErrInvalidConfig)

	short := NewService(agent, "cp-1", 100*time.Millisecond, nil)
	require.ErrorIs(t, short.Start(t.Context(), newFakeContender()), ErrInvalidDuration)

	contender := newFakeContender()
	require.NoError(t, svc.Start(t.Context(), contender))
	require.ErrorIs(t, svc.Start(t.Context(), contender), types.ErrAlreadyStarted)

	term := receive(t, contender.granted)
	require.NoError(t, svc.Stop(t.Context()))
	require.False(t, svc.HasLeadership(term))

	agent.set(func(a *fakeAgent) { require.True(t, a.released) })
}

func TestService_NATSElection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	_, nc := reconftest.StartEmbeddedNATS(t)
	kv := reconftest.CreateJetStreamKV(t, nc, "election-service", 3*time.Second)

	first := newFakeContender()
	firstSvc := NewService(NewNATSElection(kv, "leader"), "cp-1", 3*time.Second, logging.NewTest(t))
	require.NoError(t, firstSvc.Start(t.Context(), first))
	firstTerm := receive(t, first.granted)

	second := newFakeContender()
	secondSvc := NewService(NewNATSElection(kv, "leader"), "cp-2", 3*time.Second, logging.NewTest(t))
	require.NoError(t, secondSvc.Start(t.Context(), second))
	defer func() { _ = secondSvc.Stop(context.Background()) }()

	require.NoError(t, firstSvc.ConfirmLeadership(t.Context(), firstTerm, "cp-1:7000"))

	// Releasing hands leadership over on the next tick.
	require.NoError(t, firstSvc.Stop(t.Context()))

	secondTerm := receive(t, second.granted)
	require.Greater(t, secondTerm, firstTerm)
}

package types

import "context"

// Term identifies one leadership tenure.
//
// Terms are strictly increasing across successive grants in a cluster and
// serve as fencing tokens: remote components reject work tagged with a term
// lower than the highest they have observed. The zero Term means "no leadership".
type Term uint64

// ElectionAgent is the lease primitive used by the election service.
//
// The Manager never talks to an ElectionAgent directly; the election service
// drives the acquire/renew loop and translates lease changes into
// LeaderContender callbacks.
type ElectionAgent interface {
	// RequestLeadership attempts to acquire leadership.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - candidateID: The candidate requesting leadership
	//   - leaseDuration: Lease duration in seconds
	//
	// Returns:
	//   - bool: true if leadership acquired/held, false otherwise
	//   - error: Election error (nil on success)
	RequestLeadership(ctx context.Context, candidateID string, leaseDuration int64) (bool, error)

	// RenewLeadership renews the current leadership lease.
	//
	// Returns an error if leadership was lost.
	RenewLeadership(ctx context.Context) error

	// ReleaseLeadership voluntarily releases leadership.
	ReleaseLeadership(ctx context.Context) error

	// IsLeader checks if this candidate is currently the leader.
	IsLeader(ctx context.Context) (bool, error)

	// Term returns the term of the currently held lease, or zero when not leader.
	Term() Term

	// PublishAddress records the leader's serving address in the lease entry.
	PublishAddress(ctx context.Context, address string) error
}

// LeaderContender receives leadership decisions from a LeaderElectionService.
//
// Callbacks may arrive on any goroutine and must not block for long.
type LeaderContender interface {
	// GrantLeadership is called when the contender became leader for term.
	GrantLeadership(term Term)

	// RevokeLeadership is called when the contender lost leadership.
	RevokeLeadership()

	// HandleError is called when the election service hit an unrecoverable error.
	HandleError(err error)
}

// LeaderElectionService is the election contract used by the Manager.
type LeaderElectionService interface {
	// Start begins participating in elections on behalf of contender.
	Start(ctx context.Context, contender LeaderContender) error

	// Stop leaves the election and releases leadership if held.
	Stop(ctx context.Context) error

	// ConfirmLeadership publishes the leader's address for term.
	//
	// Returns an error wrapping ErrLeadershipLost if term is no longer held.
	ConfirmLeadership(ctx context.Context, term Term, address string) error

	// HasLeadership reports whether this node still holds leadership for term.
	HasLeadership(term Term) bool
}

// LeaderProcess is one coordinator instance bound to a single leadership term.
type LeaderProcess interface {
	// Start brings the instance up and blocks until it is ready to serve.
	//
	// Returns:
	//   - string: Address the instance serves on, published on confirmation
	//   - error: Start failure
	Start(ctx context.Context) (string, error)

	// Close begins asynchronous teardown.
	//
	// The returned channel yields the teardown error, if any, and is closed
	// once the instance has fully terminated. Calling Close on an instance
	// that was never started terminates immediately.
	Close() <-chan error
}

// LeaderProcessFactory creates a new LeaderProcess for a granted term.
type LeaderProcessFactory interface {
	Create(term Term) (LeaderProcess, error)
}

// FatalErrorHandler receives errors the lifecycle manager cannot recover from.
type FatalErrorHandler interface {
	OnFatalError(err error)
}

// FatalErrorHandlerFunc adapts a function to the FatalErrorHandler interface.
type FatalErrorHandlerFunc func(err error)

// OnFatalError calls f(err).
func (f FatalErrorHandlerFunc) OnFatalError(err error) {
	f(err)
}

package reconf

import "github.com/arloliu/reconf/types"

// Sentinel errors returned by the Manager and the packages it drives.
//
// They are aliases of the values in the types package, so errors.Is works
// the same whichever package a caller imports them from.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrProcessFactoryRequired is returned when no leader process factory is supplied.
	ErrProcessFactoryRequired = types.ErrProcessFactoryRequired

	// ErrAlreadyStarted is returned when Start is called on an already running manager.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Stop is called on a manager that hasn't been started.
	ErrNotStarted = types.ErrNotStarted

	// ErrLifecycle wraps every failure handed to the FatalErrorHandler.
	ErrLifecycle = types.ErrLifecycle

	// ErrElectionFailed is returned when leader election fails.
	ErrElectionFailed = types.ErrElectionFailed

	// ErrLeadershipLost is returned when a term is no longer held.
	ErrLeadershipLost = types.ErrLeadershipLost

	ErrOperatorNotFound          = types.ErrOperatorNotFound
	ErrInvalidRequest            = types.ErrInvalidRequest
	ErrAllocationMismatch        = types.ErrAllocationMismatch
	ErrStatelessOperator         = types.ErrStatelessOperator
	ErrReconfigurationInProgress = types.ErrReconfigurationInProgress
	ErrPhaseFailed               = types.ErrPhaseFailed
	ErrStaleTerm                 = types.ErrStaleTerm
)

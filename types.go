package reconf

import "github.com/arloliu/reconf/types"

// Re-export types from the types package.
//
// Internal packages depend on types rather than on the root package, which
// keeps the import graph acyclic while users still write reconf.State,
// reconf.Logger and so on.
type (
	State  = types.State
	Term   = types.Term
	Kind   = types.Kind
	Phase  = types.Phase
	Result = types.Result
)

// Re-export interfaces from the types package for convenience.
type (
	ElectionAgent         = types.ElectionAgent
	LeaderElectionService = types.LeaderElectionService
	LeaderContender       = types.LeaderContender
	LeaderProcess         = types.LeaderProcess
	LeaderProcessFactory  = types.LeaderProcessFactory
	FatalErrorHandler     = types.FatalErrorHandler
	FatalErrorHandlerFunc = types.FatalErrorHandlerFunc
	ControlPolicy         = types.ControlPolicy
	MetricsCollector      = types.MetricsCollector
	Logger                = types.Logger
	Hooks                 = types.Hooks
)

// Re-export State constants from the types package.
const (
	StateStopped  = types.StateStopped
	StateStarting = types.StateStarting
	StateRunning  = types.StateRunning
	StateShutdown = types.StateShutdown
)

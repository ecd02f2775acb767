package types

// State represents the lifecycle state of the leadership lifecycle manager.
//
// States follow a defined progression:
//
//	StateStopped → StateStarting → StateRunning → StateStopped (leadership revoked)
//
// StateStarting covers the window between a leadership grant and the moment the
// new coordinator instance reports it is ready to serve, including any wait for
// the previous instance's teardown. StateShutdown is terminal.
type State int

const (
	// StateStopped indicates no coordinator instance is serving on this node.
	StateStopped State = iota

	// StateStarting indicates leadership was granted and a coordinator instance is starting.
	StateStarting

	// StateRunning indicates a coordinator instance is serving for the current term.
	StateRunning

	// StateShutdown indicates the manager was closed and will not participate in elections again.
	StateShutdown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

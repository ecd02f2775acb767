package types

import "context"

// Hooks defines callbacks for lifecycle and reconfiguration events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block the coordinator's main loop or the lifecycle manager.
//
// IMPORTANT: Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - The context passed to hooks is cancelled when the owner stops
//   - Hook errors are logged but don't fail any operation
//
// Example:
//
//	hooks := &reconf.Hooks{
//	    OnReconfigured: func(ctx context.Context, res reconf.Result) error {
//	        log.Printf("%s of operator %d took %s", res.Kind, res.OperatorID, res.Duration)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the lifecycle manager transitions state.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnReconfigured is called after every reconfiguration completes, successfully or not.
	OnReconfigured func(ctx context.Context, result Result) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}

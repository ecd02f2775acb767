// Package hooks provides default hook implementations.
package hooks

import (
	"context"

	"github.com/arloliu/reconf/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, types.Result) error             = (*NopHooks)(nil).OnReconfigured
	_ func(context.Context, error) error                    = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - *types.Hooks: Hooks with no-op implementations
func NewNop() *types.Hooks {
	h := &NopHooks{}

	return &types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnReconfigured: h.OnReconfigured,
		OnError:        h.OnError,
	}
}

// WithDefaults returns a copy of hooks where every nil callback is a no-op.
//
// Parameters:
//   - hooks: User-supplied hooks, may be nil
//
// Returns:
//   - *types.Hooks: Hooks safe to call without nil checks
func WithDefaults(hooks *types.Hooks) *types.Hooks {
	filled := NewNop()
	if hooks == nil {
		return filled
	}

	if hooks.OnStateChanged != nil {
		filled.OnStateChanged = hooks.OnStateChanged
	}
	if hooks.OnReconfigured != nil {
		filled.OnReconfigured = hooks.OnReconfigured
	}
	if hooks.OnError != nil {
		filled.OnError = hooks.OnError
	}

	return filled
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnReconfigured is a no-op implementation.
func (h *NopHooks) OnReconfigured(_ context.Context, _ types.Result) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}

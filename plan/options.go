package plan

import (
	"github.com/arloliu/reconf/internal/logging"
	"github.com/arloliu/reconf/types"
)

// Option configures an ExecutionPlan.
type Option func(*ExecutionPlan)

// WithLogger sets the logger used for diagnostics such as ignored key-state updates.
func WithLogger(logger types.Logger) Option {
	return func(p *ExecutionPlan) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func defaultLogger() types.Logger {
	return logging.NewNop()
}

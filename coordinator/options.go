package coordinator

import (
	"time"

	"github.com/arloliu/reconf/types"
)

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger         types.Logger
	metrics        types.MetricsCollector
	hooks          *types.Hooks
	store          PlanStore
	address        string
	phaseTimeout   time.Duration
	persistTimeout time.Duration
	policies       []Policy
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithHooks sets event hooks; only OnReconfigured and OnError are used by the coordinator.
func WithHooks(hooks *types.Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithPlanStore persists the plan after every reconfiguration and restores
// the newest stored plan on Start.
func WithPlanStore(store PlanStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithAddress sets the address reported by Start.
func WithAddress(address string) Option {
	return func(o *options) {
		o.address = address
	}
}

// WithPhaseTimeout bounds every executor call. Zero leaves timeouts to the executor.
func WithPhaseTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.phaseTimeout = timeout
	}
}

// WithPersistTimeout bounds plan store writes. Defaults to 5s.
func WithPersistTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.persistTimeout = timeout
	}
}

// WithPolicies registers control policies started and stopped with the coordinator.
//
// Example:
//
//	rescaler := policy.NewRescaler(logger)
//	c, _ := coordinator.New(term, seed, exec, coordinator.WithPolicies(rescaler))
func WithPolicies(policies ...Policy) Option {
	return func(o *options) {
		o.policies = append(o.policies, policies...)
	}
}

package reconf

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	election     LeaderElectionService
	hooks        *Hooks
	metrics      MetricsCollector
	logger       Logger
	fatalHandler FatalErrorHandler
}

// WithElectionService replaces the NATS KV election with a custom service.
//
// When set, the Manager neither opens the election bucket nor builds an
// election agent; it only calls Start and Stop on the service.
//
// Parameters:
//   - service: LeaderElectionService implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	mgr, err := reconf.NewManager(&cfg, conn, factory, reconf.WithElectionService(svc))
func WithElectionService(service LeaderElectionService) Option {
	return func(o *managerOptions) {
		o.election = service
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &reconf.Hooks{
//	    OnStateChanged: func(ctx context.Context, from, to reconf.State) error {
//	        log.Printf("leader state %s -> %s", from, to)
//	        return nil
//	    },
//	}
//	mgr, err := reconf.NewManager(&cfg, conn, factory, reconf.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	mgr, err := reconf.NewManager(&cfg, conn, factory, reconf.WithLogger(logging.NewZap(zapLogger)))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithFatalErrorHandler sets the handler for unrecoverable lifecycle failures.
//
// The default handler logs the error through the logger's Fatal method,
// which terminates the process with the zap and slog adapters.
//
// Parameters:
//   - handler: FatalErrorHandler implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	handler := reconf.FatalErrorHandlerFunc(func(err error) {
//	    cancel()
//	    log.Printf("leader lifecycle failed: %v", err)
//	})
//	mgr, err := reconf.NewManager(&cfg, conn, factory, reconf.WithFatalErrorHandler(handler))
func WithFatalErrorHandler(handler FatalErrorHandler) Option {
	return func(o *managerOptions) {
		o.fatalHandler = handler
	}
}

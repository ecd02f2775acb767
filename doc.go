// Package reconf provides live reconfiguration for keyed dataflow jobs,
// coordinated over NATS.
//
// A reconf control plane changes a running job without stopping it: it
// rescales an operator, redistributes key groups across its instances, or
// swaps an operator's processing logic. Every change runs as a fixed phase
// protocol against the task executors. One elected leader at a time owns the
// execution plan.
//
// # Quick Start
//
// Run a Manager on every control-plane node. The node that wins the election
// starts a coordinator for its term:
//
//	import (
//	    "github.com/arloliu/reconf"
//	    "github.com/arloliu/reconf/coordinator"
//	    "github.com/arloliu/reconf/executor"
//	)
//
//	cfg := reconf.DefaultConfig()
//	cfg.CandidateID = "control-0"
//
//	factory, err := coordinator.NewFactory(seed, func(term reconf.Term) (coordinator.Executor, error) {
//	    return executor.NewClient(nc, cfg.Executor.SubjectPrefix, term), nil
//	})
//
//	mgr, err := reconf.NewManager(&cfg, nc, factory)
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
// # Architecture
//
// The Manager moves through a small state machine:
//
//	STOPPED → STARTING → RUNNING → STOPPED (leadership revoked)
//
// A leadership grant creates a coordinator for the new term. The coordinator
// starts only after the previous one has fully torn down, and the leader's
// address is confirmed with the election only once the coordinator serves.
// Failures while creating, starting or closing a coordinator are fatal and go
// to the FatalErrorHandler.
//
// Control policies (see the policy package) submit Rescale, Rebalance,
// ReconfigureFunction and NoOp requests to the active coordinator. The
// coordinator admits one request at a time and reports completion through
// ControlPolicy.OnUpdateFinished.
//
// See the examples/ directory for a complete working example.
package reconf

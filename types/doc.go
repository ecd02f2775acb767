// Package types provides core type definitions and interfaces for the reconf library.
//
// This package contains shared types that are used across multiple packages in the
// reconf library. By keeping these types in a separate package, we avoid import cycles
// between the root reconf package, the coordinator and the internal implementations.
//
// Key types:
//   - State: Leadership lifecycle state
//   - Term: Leadership term fencing token
//   - Kind, Phase: Reconfiguration kinds and protocol phases
//   - TaskRef: Reference to one or all instances of an operator
//   - ControlPolicy: Caller token notified when a reconfiguration finishes
//   - LeaderElectionService, LeaderContender: Election contract
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types

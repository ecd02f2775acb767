// Package plan models the execution plan of a stream-processing job.
//
// An ExecutionPlan is an arena of operators keyed by integer id. Edges are
// stored as id sets on both endpoints, so the parent/child relation is
// two-sided without holding pointers between operators. Each operator carries:
//
//   - its parallelism and task instances (with node placement)
//   - for stateful operators, a key-state allocation: which key groups each
//     instance owns
//   - a key mapping per direct child: how records are routed to that child's
//     instances
//   - a Logic record describing its processing function
//
// The plan maintains two invariants across every mutation:
//
//  1. A key-state allocation assigns every key group in [0, maxKeyGroups) to
//     exactly one instance.
//  2. For a stateful child, every parent's key mapping toward the child equals
//     the child's key-state allocation.
//
// An ExecutionPlan is not safe for concurrent use. The coordinator owns it on
// its main loop and hands out immutable Snapshot copies to everyone else.
package plan

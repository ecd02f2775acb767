// Package planstore persists execution plan snapshots across leadership terms.
//
// Two stores implement coordinator.PlanStore:
//   - KV keeps the latest snapshot in a NATS JetStream KeyValue bucket, shared
//     by every control-plane candidate
//   - Bolt keeps it in a local bbolt file, for single-node deployments and tests
//
// Both apply the same write rules through accept: a snapshot from a lower
// term than the stored one fails with types.ErrStaleTerm, and within one term
// an older plan version is ignored. Equal versions overwrite, so a plan that
// turned provisional after a failed reconfiguration is recorded as such.
package planstore

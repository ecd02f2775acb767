// Package election provides leader election for reconf control-plane candidates.
//
// Leader election ensures at most one coordinator mutates the execution plan
// at any given time. Every acquisition yields a term that is strictly greater
// than all previous ones; the term fences executor requests and plan store
// writes from a superseded leader.
//
// # NATS KV Election
//
// NATSElection keeps a lease under a single key of a NATS KV bucket:
//   - Create (atomic) acquires leadership; its revision is the term
//   - Update with the held revision renews the lease and publishes the address
//   - Delete guarded by the held revision releases leadership
//
// The bucket TTL is the lease duration, so a crashed leader's key expires and
// another candidate takes over.
//
// # Election Service
//
// Service implements types.LeaderElectionService on top of any ElectionAgent:
//
//	agent := election.NewNATSElection(kv, "leader")
//	svc := election.NewService(agent, "cp-1", 10*time.Second, logger)
//	_ = svc.Start(ctx, contender) // GrantLeadership / RevokeLeadership callbacks
//	...
//	_ = svc.ConfirmLeadership(ctx, term, "10.0.0.1:7000")
//
// The loop ticks every lease/3: followers request leadership, the leader
// renews. A failed renewal revokes leadership from the contender. Connectivity
// errors while following are logged and retried; other errors are passed to
// the contender's HandleError.
//
// # Error Handling
//
// Common errors:
//   - ErrNotLeader: Attempted operation requires leadership
//   - ErrLeadershipLost: Leadership was lost (another candidate took over)
//   - ErrInvalidDuration: Invalid lease duration
//   - ErrNoLeader: No leader key present
package election

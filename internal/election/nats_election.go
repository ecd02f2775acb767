package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/reconf/internal/natsutil"
	"github.com/arloliu/reconf/types"
)

// Common errors for election operations.
var (
	ErrNotLeader       = errors.New("not the leader")
	ErrLeadershipLost  = errors.New("leadership was lost")
	ErrInvalidDuration = errors.New("invalid lease duration")
	ErrNoLeader        = errors.New("no leader elected")
)

// Record is the value stored under the leader key.
type Record struct {
	CandidateID string     `json:"candidate_id"`
	Term        types.Term `json:"term,omitempty"`
	Address     string     `json:"address,omitempty"`
	RenewedAt   time.Time  `json:"renewed_at"`
}

// NATSElection implements leader election using NATS KV store.
//
// Uses atomic KV operations for leader election:
//   - Create (atomic): Acquire leadership if key doesn't exist
//   - Update (with revision): Renew leadership if still holding the lease
//   - Delete: Release leadership
//
// The revision returned by Create is the leadership term. Bucket revisions
// only grow, so every acquisition gets a higher term than the previous one.
//
// All fields are protected by mu for thread-safe concurrent access.
type NATSElection struct {
	kv          jetstream.KeyValue
	key         string
	mu          sync.RWMutex
	candidateID string
	revision    uint64
	term        types.Term
	address     string
	isLeader    bool
}

// Compile-time assertion that NATSElection implements ElectionAgent.
var _ types.ElectionAgent = (*NATSElection)(nil)

// NewNATSElection creates a new NATS KV-based election agent.
//
// The KV bucket should be configured with a TTL equal to the lease duration
// for automatic failover when the leader crashes.
//
// Parameters:
//   - kv: JetStream KV bucket for election coordination
//   - key: Key name for leadership claim (e.g., "leader")
//
// Returns:
//   - *NATSElection: New election agent instance
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "reconf-election",
//	    TTL:     10 * time.Second,
//	    Storage: jetstream.FileStorage,
//	})
//	agent := election.NewNATSElection(kv, "leader")
func NewNATSElection(kv jetstream.KeyValue, key string) *NATSElection {
	return &NATSElection{
		kv:  kv,
		key: key,
	}
}

// RequestLeadership attempts to acquire or maintain leadership.
//
// Parameters:
//   - ctx: Context for timeout
//   - candidateID: The candidate requesting leadership
//   - leaseDuration: Lease duration in seconds (TTL is set at bucket level)
//
// Returns:
//   - bool: true if leadership acquired/held, false otherwise
//   - error: Election error or context cancellation
func (e *NATSElection) RequestLeadership(ctx context.Context, candidateID string, leaseDuration int64) (bool, error) {
	if leaseDuration <= 0 {
		return false, ErrInvalidDuration
	}

	e.mu.RLock()
	holding := e.isLeader && e.candidateID == candidateID
	e.mu.RUnlock()

	if holding {
		if err := e.RenewLeadership(ctx); err == nil {
			return true, nil
		}
	}

	value, err := json.Marshal(Record{CandidateID: candidateID, RenewedAt: time.Now()})
	if err != nil {
		return false, err
	}

	revision, err := e.kv.Create(ctx, e.key, value)
	if err != nil {
		if natsutil.IsRevisionConflict(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create leader key: %w", err)
	}

	e.mu.Lock()
	e.isLeader = true
	e.candidateID = candidateID
	e.revision = revision
	e.term = types.Term(revision)
	e.address = ""
	e.mu.Unlock()

	return true, nil
}

// RenewLeadership renews the current leadership lease.
//
// Returns:
//   - error: ErrNotLeader if not the leader, ErrLeadershipLost if lost, nil on success
func (e *NATSElection) RenewLeadership(ctx context.Context) error {
	return e.update(ctx, nil)
}

// PublishAddress records the leader's serving address in the leader key.
//
// Returns:
//   - error: ErrNotLeader if not the leader, ErrLeadershipLost if lost, nil on success
func (e *NATSElection) PublishAddress(ctx context.Context, address string) error {
	return e.update(ctx, &address)
}

func (e *NATSElection) update(ctx context.Context, address *string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return ErrNotLeader
	}

	record := Record{
		CandidateID: e.candidateID,
		Term:        e.term,
		Address:     e.address,
		RenewedAt:   time.Now(),
	}
	if address != nil {
		record.Address = *address
	}

	value, err := json.Marshal(record)
	if err != nil {
		return err
	}

	revision, err := e.kv.Update(ctx, e.key, value, e.revision)
	if err != nil {
		e.isLeader = false
		return fmt.Errorf("%w: %w", ErrLeadershipLost, err)
	}

	e.revision = revision
	e.address = record.Address

	return nil
}

// ReleaseLeadership voluntarily releases leadership.
//
// Deletes the leader key, guarded by the held revision, to allow immediate failover.
func (e *NATSElection) ReleaseLeadership(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return ErrNotLeader
	}

	err := e.kv.Delete(ctx, e.key, jetstream.LastRevision(e.revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete leader key: %w", err)
	}

	e.isLeader = false
	e.term = 0
	e.address = ""

	return nil
}

// IsLeader checks the leader key still carries the revision this agent wrote last.
func (e *NATSElection) IsLeader(ctx context.Context) (bool, error) {
	e.mu.RLock()
	isLeader, revision := e.isLeader, e.revision
	e.mu.RUnlock()

	if !isLeader {
		return false, nil
	}

	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			e.clearLeadership()
			return false, nil
		}

		return false, fmt.Errorf("failed to get leader key: %w", err)
	}

	if entry.Revision() != revision {
		e.clearLeadership()
		return false, nil
	}

	return true, nil
}

// Term returns the term of the held leadership, or zero.
func (e *NATSElection) Term() types.Term {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.isLeader {
		return 0
	}

	return e.term
}

// Leader reads the current leader record.
//
// Returns:
//   - Record: The leader record; Term is zero until the leader renewed once
//   - error: ErrNoLeader when the key is absent
func (e *NATSElection) Leader(ctx context.Context) (Record, error) {
	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Record{}, ErrNoLeader
		}

		return Record{}, fmt.Errorf("failed to get leader key: %w", err)
	}

	var record Record
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return Record{}, fmt.Errorf("decode leader record: %w", err)
	}

	return record, nil
}

func (e *NATSElection) clearLeadership() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = false
}

package planstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/reconf/internal/natsutil"
	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// DefaultKey is the key the plan is stored under.
const DefaultKey = "plan"

const maxCASAttempts = 3

// KV stores plan snapshots in a JetStream KeyValue bucket.
//
// Writes are compare-and-set on the entry revision, so concurrent writers from
// different terms cannot interleave between the term check and the write.
type KV struct {
	kv  jetstream.KeyValue
	key string
}

// NewKV creates a KV-backed plan store.
//
// Parameters:
//   - kv: Bucket without TTL
//   - key: Entry key; DefaultKey when empty
//
// Example:
//
//	bucket, _ := kvutil.Open(ctx, nc, "reconf-plan", 0)
//	store := planstore.NewKV(bucket, "")
func NewKV(kv jetstream.KeyValue, key string) *KV {
	if key == "" {
		key = DefaultKey
	}

	return &KV{kv: kv, key: key}
}

// Save stores snap unless a newer term or version is already stored.
func (s *KV) Save(ctx context.Context, snap *plan.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	for range maxCASAttempts {
		stored, revision, err := s.load(ctx)
		if err != nil && !errors.Is(err, types.ErrSnapshotNotFound) {
			return err
		}

		ok, err := accept(stored, snap)
		if err != nil || !ok {
			return err
		}

		if revision == 0 {
			_, err = s.kv.Create(ctx, s.key, data)
		} else {
			_, err = s.kv.Update(ctx, s.key, data, revision)
		}
		if err == nil {
			return nil
		}
		if !natsutil.IsRevisionConflict(err) {
			return fmt.Errorf("write plan snapshot: %w", err)
		}
		// Lost a race with another writer; re-check against its snapshot.
	}

	return fmt.Errorf("write plan snapshot: too many concurrent writers for %s", s.key)
}

// Load returns the stored snapshot or types.ErrSnapshotNotFound.
func (s *KV) Load(ctx context.Context) (*plan.Snapshot, error) {
	snap, _, err := s.load(ctx)
	return snap, err
}

func (s *KV) load(ctx context.Context) (*plan.Snapshot, uint64, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, types.ErrSnapshotNotFound
		}

		return nil, 0, fmt.Errorf("read plan snapshot: %w", err)
	}

	snap, err := decode(entry.Value())
	if err != nil {
		return nil, 0, err
	}

	return snap, entry.Revision(), nil
}

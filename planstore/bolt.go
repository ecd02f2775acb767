package planstore

import (
	"context"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

var planBucket = []byte("plans")

// Bolt stores plan snapshots in a bbolt file.
type Bolt struct {
	db  *bolt.DB
	key []byte
}

// OpenBolt opens or creates the bbolt file at path.
//
// Parameters:
//   - path: Database file path
//   - key: Entry key; DefaultKey when empty
//
// Returns:
//   - *Bolt: Store to Close when done
//   - error: File cannot be opened or initialized
func OpenBolt(path, key string) (*Bolt, error) {
	if key == "" {
		key = DefaultKey
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(planBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not ensure plan bucket exists: %w", err)
	}

	return &Bolt{db: db, key: []byte(key)}, nil
}

// Save stores snap unless a newer term or version is already stored.
func (s *Bolt) Save(ctx context.Context, snap *plan.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(snap)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(planBucket)

		var stored *plan.Snapshot
		if raw := b.Get(s.key); raw != nil {
			if stored, err = decode(raw); err != nil {
				return err
			}
		}

		ok, err := accept(stored, snap)
		if err != nil || !ok {
			return err
		}

		return b.Put(s.key, data)
	})
}

// Load returns the stored snapshot or types.ErrSnapshotNotFound.
func (s *Bolt) Load(ctx context.Context) (*plan.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *plan.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(planBucket).Get(s.key)
		if raw == nil {
			return types.ErrSnapshotNotFound
		}

		var err error
		snap, err = decode(raw)

		return err
	})

	return snap, err
}

// Close closes the database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// Delete closes the store and removes its file.
func (s *Bolt) Delete() error {
	path := s.db.Path()

	if err := s.Close(); err != nil {
		return fmt.Errorf("could not close store: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove path %s: %w", path, err)
	}

	return nil
}

package planstore

import (
	"encoding/json"
	"fmt"

	"github.com/arloliu/reconf/plan"
	"github.com/arloliu/reconf/types"
)

// accept reports whether next may replace stored.
//
// Returns:
//   - bool: false when next is an older version of the same term
//   - error: types.ErrStaleTerm when next comes from a lower term
func accept(stored, next *plan.Snapshot) (bool, error) {
	if stored == nil {
		return true, nil
	}

	if next.Term < stored.Term {
		return false, fmt.Errorf("%w: snapshot term %d, stored term %d", types.ErrStaleTerm, next.Term, stored.Term)
	}

	if next.Term == stored.Term && next.Version < stored.Version {
		return false, nil
	}

	return true, nil
}

func encode(snap *plan.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode plan snapshot: %w", err)
	}

	return data, nil
}

func decode(data []byte) (*plan.Snapshot, error) {
	var snap plan.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode plan snapshot: %w", err)
	}

	return &snap, nil
}

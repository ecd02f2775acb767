package keygroup

import (
	"fmt"
	"slices"

	"github.com/zeebo/xxh3"
)

// Router routes keys to downstream instances using a key-group routing table.
//
// A Router is immutable after construction and safe for concurrent use. A new
// routing table is installed by building a new Router and swapping it in.
type Router struct {
	maxKeyGroups int
	parallelism  int
	owners       []int // key group → instance
}

// NewRouter builds a Router from an explicit key mapping.
//
// Parameters:
//   - maxKeyGroups: Maximum parallelism M
//   - mapping: Instance index → owned key groups; must cover [0, M) disjointly
//
// Returns:
//   - *Router: Router for the mapping
//   - error: ErrInvalidConfiguration if the mapping is not a disjoint cover
func NewRouter(maxKeyGroups int, mapping map[int][]int) (*Router, error) {
	if err := CheckMaxKeyGroups(maxKeyGroups); err != nil {
		return nil, err
	}

	if len(mapping) == 0 {
		return nil, fmt.Errorf("%w: empty key mapping", ErrInvalidConfiguration)
	}

	owners := make([]int, maxKeyGroups)
	for i := range owners {
		owners[i] = -1
	}

	for instance, groups := range mapping {
		if instance < 0 || instance >= len(mapping) {
			return nil, fmt.Errorf("%w: instance %d outside [0, %d)", ErrInvalidConfiguration, instance, len(mapping))
		}

		for _, kg := range groups {
			if kg < 0 || kg >= maxKeyGroups {
				return nil, fmt.Errorf("%w: key group %d outside [0, %d)", ErrInvalidConfiguration, kg, maxKeyGroups)
			}

			if owners[kg] != -1 {
				return nil, fmt.Errorf("%w: key group %d owned by instances %d and %d", ErrInvalidConfiguration, kg, owners[kg], instance)
			}
			owners[kg] = instance
		}
	}

	if idx := slices.Index(owners, -1); idx >= 0 {
		return nil, fmt.Errorf("%w: key group %d has no owner", ErrInvalidConfiguration, idx)
	}

	return &Router{maxKeyGroups: maxKeyGroups, parallelism: len(mapping), owners: owners}, nil
}

// NewBalancedRouter builds a Router for the balanced layout of M key groups over P instances.
func NewBalancedRouter(maxKeyGroups, parallelism int) (*Router, error) {
	alloc, err := BalancedAllocation(maxKeyGroups, parallelism)
	if err != nil {
		return nil, err
	}

	return NewRouter(maxKeyGroups, alloc)
}

// Route returns the instance responsible for key.
func (r *Router) Route(key []byte) int {
	return r.owners[computeKeyGroup(xxh3.Hash(key), r.maxKeyGroups)]
}

// RouteString returns the instance responsible for a string key.
func (r *Router) RouteString(key string) int {
	return r.owners[computeKeyGroup(xxh3.HashString(key), r.maxKeyGroups)]
}

// Owner returns the instance owning keyGroup.
func (r *Router) Owner(keyGroup int) (int, bool) {
	if keyGroup < 0 || keyGroup >= r.maxKeyGroups {
		return 0, false
	}

	return r.owners[keyGroup], true
}

// Parallelism returns the number of downstream instances.
func (r *Router) Parallelism() int {
	return r.parallelism
}

// MaxKeyGroups returns the maximum parallelism M.
func (r *Router) MaxKeyGroups() int {
	return r.maxKeyGroups
}

// KeyMapping returns the per-instance key groups in ascending order.
func (r *Router) KeyMapping() map[int][]int {
	mapping := make(map[int][]int, r.parallelism)
	for i := range r.parallelism {
		mapping[i] = []int{}
	}

	for kg, instance := range r.owners {
		mapping[instance] = append(mapping[instance], kg)
	}

	return mapping
}

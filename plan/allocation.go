package plan

import (
	"fmt"
	"maps"
	"slices"

	"github.com/arloliu/reconf/keygroup"
	"github.com/arloliu/reconf/types"
)

// KeyAllocation maps an instance index to the key groups it owns.
//
// A valid allocation for parallelism P has exactly the instance indices
// [0, P) and assigns every key group in [0, maxKeyGroups) to exactly one of
// them. Instances may own no key groups.
type KeyAllocation map[int][]int

// BalancedAllocation returns the balanced contiguous allocation of maxKeyGroups over parallelism instances.
func BalancedAllocation(maxKeyGroups, parallelism int) (KeyAllocation, error) {
	alloc, err := keygroup.BalancedAllocation(maxKeyGroups, parallelism)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidParallelism, err)
	}

	return alloc, nil
}

// Clone returns a deep copy with every key group list sorted ascending.
func (a KeyAllocation) Clone() KeyAllocation {
	if a == nil {
		return nil
	}

	out := make(KeyAllocation, len(a))
	for instance, groups := range a {
		cp := slices.Clone(groups)
		if cp == nil {
			cp = []int{}
		}
		slices.Sort(cp)
		out[instance] = cp
	}

	return out
}

// Parallelism returns the number of instances in the allocation.
func (a KeyAllocation) Parallelism() int {
	return len(a)
}

// Owner returns the instance owning keyGroup.
func (a KeyAllocation) Owner(keyGroup int) (int, bool) {
	for instance, groups := range a {
		if slices.Contains(groups, keyGroup) {
			return instance, true
		}
	}

	return 0, false
}

// Equal reports whether both allocations assign the same key groups to the same instances.
func (a KeyAllocation) Equal(b KeyAllocation) bool {
	if len(a) != len(b) {
		return false
	}

	return maps.EqualFunc(a.Clone(), b.Clone(), slices.Equal[[]int])
}

// Validate checks that the allocation is a disjoint cover of [0, maxKeyGroups)
// over the instance indices [0, len(a)).
//
// Returns:
//   - error: nil, or an error wrapping types.ErrInvalidAllocation describing the first violation
func (a KeyAllocation) Validate(maxKeyGroups int) error {
	if err := keygroup.CheckMaxKeyGroups(maxKeyGroups); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidAllocation, err)
	}

	if len(a) == 0 {
		return fmt.Errorf("%w: no instances", types.ErrInvalidAllocation)
	}

	if len(a) > maxKeyGroups {
		return fmt.Errorf("%w: %d instances exceed %d key groups", types.ErrInvalidAllocation, len(a), maxKeyGroups)
	}

	owners := make([]int, maxKeyGroups)
	for i := range owners {
		owners[i] = -1
	}

	for _, instance := range slices.Sorted(maps.Keys(a)) {
		if instance < 0 || instance >= len(a) {
			return fmt.Errorf("%w: instance %d outside [0, %d)", types.ErrInvalidAllocation, instance, len(a))
		}

		for _, kg := range a[instance] {
			if kg < 0 || kg >= maxKeyGroups {
				return fmt.Errorf("%w: key group %d outside [0, %d)", types.ErrInvalidAllocation, kg, maxKeyGroups)
			}

			if owners[kg] != -1 {
				return fmt.Errorf("%w: key group %d owned by instances %d and %d",
					types.ErrInvalidAllocation, kg, owners[kg], instance)
			}
			owners[kg] = instance
		}
	}

	if kg := slices.Index(owners, -1); kg >= 0 {
		return fmt.Errorf("%w: key group %d has no owner", types.ErrInvalidAllocation, kg)
	}

	return nil
}

// Moves returns the key groups whose owner differs between from and to, keyed by key group.
//
// Key groups absent from from are reported with a previous owner of -1.
func (a KeyAllocation) Moves(to KeyAllocation) map[int][2]int {
	prev := make(map[int]int)
	for instance, groups := range a {
		for _, kg := range groups {
			prev[kg] = instance
		}
	}

	moves := make(map[int][2]int)
	for instance, groups := range to {
		for _, kg := range groups {
			old, ok := prev[kg]
			if !ok {
				old = -1
			}
			if old != instance {
				moves[kg] = [2]int{old, instance}
			}
		}
	}

	return moves
}

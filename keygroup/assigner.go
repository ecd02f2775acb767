package keygroup

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// DefaultMaxKeyGroups is the maximum parallelism used when none is configured.
const DefaultMaxKeyGroups = 128

// UpperBoundMaxKeyGroups is the largest supported maximum parallelism.
const UpperBoundMaxKeyGroups = 1 << 15

// Range is a half-open interval [Start, End) of key group indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of key groups in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Contains reports whether keyGroup lies in the range.
func (r Range) Contains(keyGroup int) bool {
	return keyGroup >= r.Start && keyGroup < r.End
}

// KeyGroups returns the key group indices of the range in ascending order.
func (r Range) KeyGroups() []int {
	groups := make([]int, 0, r.Len())
	for kg := r.Start; kg < r.End; kg++ {
		groups = append(groups, kg)
	}

	return groups
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// CheckMaxKeyGroups validates a maximum parallelism.
func CheckMaxKeyGroups(maxKeyGroups int) error {
	if maxKeyGroups < 1 || maxKeyGroups > UpperBoundMaxKeyGroups {
		return fmt.Errorf("%w: max key groups %d outside [1, %d]", ErrInvalidConfiguration, maxKeyGroups, UpperBoundMaxKeyGroups)
	}

	return nil
}

// CheckParallelism validates a parallelism against a maximum parallelism.
//
// Parameters:
//   - maxKeyGroups: Maximum parallelism M
//   - parallelism: Parallelism P, must be in [1, M]
//
// Returns:
//   - error: ErrInvalidConfiguration if either value is out of range
func CheckParallelism(maxKeyGroups, parallelism int) error {
	if err := CheckMaxKeyGroups(maxKeyGroups); err != nil {
		return err
	}

	if parallelism < 1 || parallelism > maxKeyGroups {
		return fmt.Errorf("%w: parallelism %d outside [1, %d]", ErrInvalidConfiguration, parallelism, maxKeyGroups)
	}

	return nil
}

// AssignToKeyGroup maps a key to its key group.
//
// The mapping is stable across processes and restarts: it depends only on the
// key bytes and maxKeyGroups.
//
// Parameters:
//   - key: Record key
//   - maxKeyGroups: Maximum parallelism M
//
// Returns:
//   - int: Key group in [0, M)
//   - error: ErrInvalidConfiguration if M is out of range
//
// Example:
//
//	kg, err := keygroup.AssignToKeyGroup([]byte("order-42"), 128)
func AssignToKeyGroup(key []byte, maxKeyGroups int) (int, error) {
	if err := CheckMaxKeyGroups(maxKeyGroups); err != nil {
		return 0, err
	}

	return computeKeyGroup(xxh3.Hash(key), maxKeyGroups), nil
}

// AssignStringToKeyGroup is AssignToKeyGroup for string keys.
func AssignStringToKeyGroup(key string, maxKeyGroups int) (int, error) {
	if err := CheckMaxKeyGroups(maxKeyGroups); err != nil {
		return 0, err
	}

	return computeKeyGroup(xxh3.HashString(key), maxKeyGroups), nil
}

func computeKeyGroup(hash uint64, maxKeyGroups int) int {
	return int(hash % uint64(maxKeyGroups))
}

// ComputeRange returns the contiguous key group range owned by one instance.
//
// Bounds use ceiling division, so range sizes differ by at most one and the
// first instance always holds a larger range when M is not a multiple of P.
// Where the other larger ranges fall depends on M and P: M=10, P=4 yields
// sizes 3, 2, 3, 2.
//
// Parameters:
//   - maxKeyGroups: Maximum parallelism M
//   - parallelism: Parallelism P
//   - instance: Instance index in [0, P)
//
// Returns:
//   - Range: [ceil(i*M/P), ceil((i+1)*M/P))
//   - error: ErrInvalidConfiguration on invalid input
func ComputeRange(maxKeyGroups, parallelism, instance int) (Range, error) {
	if err := CheckParallelism(maxKeyGroups, parallelism); err != nil {
		return Range{}, err
	}

	if instance < 0 || instance >= parallelism {
		return Range{}, fmt.Errorf("%w: instance %d outside [0, %d)", ErrInvalidConfiguration, instance, parallelism)
	}

	return rangeFor(maxKeyGroups, parallelism, instance), nil
}

func rangeFor(maxKeyGroups, parallelism, instance int) Range {
	return Range{
		Start: (instance*maxKeyGroups + parallelism - 1) / parallelism,
		End:   ((instance+1)*maxKeyGroups + parallelism - 1) / parallelism,
	}
}

// OperatorIndexForKeyGroup returns the instance whose balanced range contains keyGroup.
//
// It is the inverse of ComputeRange: for every valid input,
// ComputeRange(M, P, OperatorIndexForKeyGroup(M, P, kg)).Contains(kg) holds.
func OperatorIndexForKeyGroup(maxKeyGroups, parallelism, keyGroup int) (int, error) {
	if err := CheckParallelism(maxKeyGroups, parallelism); err != nil {
		return 0, err
	}

	if keyGroup < 0 || keyGroup >= maxKeyGroups {
		return 0, fmt.Errorf("%w: key group %d outside [0, %d)", ErrInvalidConfiguration, keyGroup, maxKeyGroups)
	}

	return keyGroup * parallelism / maxKeyGroups, nil
}

// AssignKeyToInstance maps a key directly to an instance under the balanced layout.
func AssignKeyToInstance(key []byte, maxKeyGroups, parallelism int) (int, error) {
	if err := CheckParallelism(maxKeyGroups, parallelism); err != nil {
		return 0, err
	}

	kg := computeKeyGroup(xxh3.Hash(key), maxKeyGroups)

	return kg * parallelism / maxKeyGroups, nil
}

// BalancedAllocation returns the balanced allocation of M key groups over P instances.
//
// Returns:
//   - map[int][]int: Instance index → ascending key groups; every instance in [0, P) is present
//   - error: ErrInvalidConfiguration on invalid input
//
// Example:
//
//	alloc, _ := keygroup.BalancedAllocation(10, 3)
//	// alloc == map[int][]int{0: {0,1,2,3}, 1: {4,5,6}, 2: {7,8,9}}
func BalancedAllocation(maxKeyGroups, parallelism int) (map[int][]int, error) {
	if err := CheckParallelism(maxKeyGroups, parallelism); err != nil {
		return nil, err
	}

	alloc := make(map[int][]int, parallelism)
	for i := range parallelism {
		alloc[i] = rangeFor(maxKeyGroups, parallelism, i).KeyGroups()
	}

	return alloc, nil
}

package plan

import (
	"fmt"
	"maps"
	"slices"

	"github.com/arloliu/reconf/types"
)

// Snapshot is an immutable, serializable copy of an ExecutionPlan.
//
// Snapshots never alias live plan state. Treat them as read-only: use Clone
// before modifying one that is shared.
type Snapshot struct {
	// Version is the plan version at the time of the snapshot.
	Version uint64 `json:"version"`

	// Term is the leadership term of the coordinator that produced the snapshot.
	Term types.Term `json:"term,omitempty"`

	// MaxKeyGroups is the maximum parallelism M.
	MaxKeyGroups int `json:"max_key_groups"`

	// Provisional is set while the plan holds changes the remote executor did not confirm.
	Provisional bool `json:"provisional,omitempty"`

	// FailureCause describes the failure that left the plan provisional.
	FailureCause string `json:"failure_cause,omitempty"`

	// Operators are ordered by ID.
	Operators []OperatorSnapshot `json:"operators"`

	// Nodes are ordered by address.
	Nodes []NodeSnapshot `json:"nodes,omitempty"`
}

// OperatorSnapshot is the read-only view of one operator.
type OperatorSnapshot struct {
	ID          int                   `json:"id"`
	Name        string                `json:"name,omitempty"`
	Parallelism int                   `json:"parallelism"`
	Stateful    bool                  `json:"stateful,omitempty"`
	Logic       Logic                 `json:"logic,omitempty"`
	Parents     []int                 `json:"parents,omitempty"`
	Children    []int                 `json:"children,omitempty"`
	Tasks       []TaskInstance        `json:"tasks"`
	KeyState    KeyAllocation         `json:"key_state,omitempty"`
	KeyMapping  map[int]KeyAllocation `json:"key_mapping,omitempty"`
}

// NodeSnapshot is the read-only view of one node.
type NodeSnapshot struct {
	Address  string          `json:"address"`
	Slots    int             `json:"slots"`
	Deployed []types.TaskRef `json:"deployed,omitempty"`
}

// Snapshot returns a deep copy of the plan.
func (p *ExecutionPlan) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:      p.version,
		MaxKeyGroups: p.maxKeyGroups,
		Provisional:  p.provisional,
		FailureCause: p.failureCause,
		Operators:    make([]OperatorSnapshot, 0, len(p.operators)),
		Nodes:        make([]NodeSnapshot, 0, len(p.nodes)),
	}

	for _, id := range p.Operators() {
		snap.Operators = append(snap.Operators, p.operators[id].snapshot())
	}

	for _, address := range p.Nodes() {
		deployed, _ := p.DeployedTasks(address)
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			Address:  address,
			Slots:    p.nodes[address].slots,
			Deployed: deployed,
		})
	}

	return snap
}

// Operator returns the snapshot of one operator.
func (s *Snapshot) Operator(id int) (OperatorSnapshot, bool) {
	idx, found := slices.BinarySearchFunc(s.Operators, id, func(op OperatorSnapshot, target int) int {
		return op.ID - target
	})
	if !found {
		return OperatorSnapshot{}, false
	}

	return s.Operators[idx], true
}

// Parallelism returns the parallelism of one operator.
func (s *Snapshot) Parallelism(id int) (int, error) {
	op, ok := s.Operator(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", types.ErrOperatorNotFound, id)
	}

	return op.Parallelism, nil
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	out := *s
	out.Operators = make([]OperatorSnapshot, len(s.Operators))
	for i, op := range s.Operators {
		cp := op
		cp.Logic = op.Logic.Clone()
		cp.Parents = slices.Clone(op.Parents)
		cp.Children = slices.Clone(op.Children)
		cp.Tasks = slices.Clone(op.Tasks)
		cp.KeyState = op.KeyState.Clone()
		if op.KeyMapping != nil {
			cp.KeyMapping = make(map[int]KeyAllocation, len(op.KeyMapping))
			for child, alloc := range op.KeyMapping {
				cp.KeyMapping[child] = alloc.Clone()
			}
		}
		out.Operators[i] = cp
	}

	out.Nodes = make([]NodeSnapshot, len(s.Nodes))
	for i, n := range s.Nodes {
		cp := n
		cp.Deployed = slices.Clone(n.Deployed)
		out.Nodes[i] = cp
	}

	return &out
}

// FromSnapshot rebuilds a mutable plan from a snapshot.
//
// The rebuilt plan keeps the snapshot's version and provisional mark, and is
// validated before it is returned.
//
// Returns:
//   - *ExecutionPlan: Plan equal to the snapshot
//   - error: Any registration error or invariant violation found in the snapshot
func FromSnapshot(s *Snapshot, opts ...Option) (*ExecutionPlan, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", types.ErrInvalidRequest)
	}

	p, err := New(s.MaxKeyGroups, opts...)
	if err != nil {
		return nil, err
	}

	for _, n := range s.Nodes {
		if err := p.AddNode(n.Address, n.Slots); err != nil {
			return nil, err
		}
	}

	for _, op := range s.Operators {
		spec := OperatorSpec{
			ID:          op.ID,
			Name:        op.Name,
			Parallelism: op.Parallelism,
			Logic:       op.Logic,
		}
		for _, task := range op.Tasks {
			if task.Placed() {
				spec.Placements = append(spec.Placements, task)
			}
		}

		if err := p.RegisterOperator(spec); err != nil {
			return nil, fmt.Errorf("restore operator %d: %w", op.ID, err)
		}
	}

	for _, op := range s.Operators {
		edges := make([]Edge, 0, len(op.Children))
		for _, child := range op.Children {
			edges = append(edges, Edge{Source: op.ID, Target: child})
		}

		if err := p.AddChildren(op.ID, edges...); err != nil {
			return nil, fmt.Errorf("restore edges of %d: %w", op.ID, err)
		}
	}

	stateful := make(map[int]bool, len(s.Operators))
	for _, op := range s.Operators {
		stateful[op.ID] = op.Stateful
	}

	// Routing toward stateless children first; routing toward stateful
	// children follows from their key state below.
	for _, op := range s.Operators {
		for _, child := range slices.Sorted(maps.Keys(op.KeyMapping)) {
			if !p.HasOperator(child) {
				return nil, fmt.Errorf("restore key mapping of %d: %w: %d", op.ID, types.ErrOperatorNotFound, child)
			}
			if stateful[child] {
				continue
			}
			if err := p.UpdateKeyMapping(op.ID, child, op.KeyMapping[child]); err != nil {
				return nil, fmt.Errorf("restore key mapping of %d: %w", op.ID, err)
			}
		}
	}

	for _, op := range s.Operators {
		if !op.Stateful {
			continue
		}
		if err := p.InitKeyStateAllocation(op.ID, op.KeyState); err != nil {
			return nil, fmt.Errorf("restore key state of %d: %w", op.ID, err)
		}
	}

	p.version = s.Version
	p.provisional = s.Provisional
	p.failureCause = s.FailureCause

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: restored plan: %w", types.ErrInvalidRequest, err)
	}

	return p, nil
}

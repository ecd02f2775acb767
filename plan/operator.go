package plan

import (
	"maps"
	"slices"

	"github.com/arloliu/reconf/types"
)

// Edge is a directed data edge from Source to Target.
type Edge struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// TaskInstance is one parallel instance of an operator and its placement.
//
// Node is empty while the instance is not placed.
type TaskInstance struct {
	Offset int    `json:"offset"`
	Node   string `json:"node,omitempty"`
	Slot   int    `json:"slot"`
}

// Placed reports whether the instance is assigned to a node.
func (t TaskInstance) Placed() bool {
	return t.Node != ""
}

// OperatorSpec describes an operator at registration time.
type OperatorSpec struct {
	// ID uniquely identifies the operator within the plan.
	ID int

	// Name is a human-readable label.
	Name string

	// Parallelism is the initial number of instances, in [1, maxKeyGroups].
	Parallelism int

	// Stateful marks the operator as owning keyed state. When KeyState is nil
	// a stateful operator starts with the balanced allocation.
	Stateful bool

	// KeyState is the initial key-state allocation. A non-nil value implies Stateful.
	KeyState KeyAllocation

	// Logic is the initial processing-logic record.
	Logic Logic

	// Placements optionally places instances on registered nodes.
	Placements []TaskInstance
}

type operator struct {
	id          int
	name        string
	parallelism int
	stateful    bool
	logic       Logic
	parents     map[int]struct{}
	children    map[int]struct{}
	tasks       map[int]TaskInstance
	keyState    KeyAllocation
	keyMapping  map[int]KeyAllocation // child id → routing toward that child
}

func newOperator(spec OperatorSpec) *operator {
	op := &operator{
		id:          spec.ID,
		name:        spec.Name,
		parallelism: spec.Parallelism,
		logic:       spec.Logic.Clone(),
		parents:     make(map[int]struct{}),
		children:    make(map[int]struct{}),
		tasks:       make(map[int]TaskInstance, spec.Parallelism),
		keyMapping:  make(map[int]KeyAllocation),
	}
	if op.logic == nil {
		op.logic = Logic{}
	}

	for offset := range spec.Parallelism {
		op.tasks[offset] = TaskInstance{Offset: offset}
	}

	return op
}

func (o *operator) parentIDs() []int {
	return slices.Sorted(maps.Keys(o.parents))
}

func (o *operator) childIDs() []int {
	return slices.Sorted(maps.Keys(o.children))
}

func (o *operator) taskList() []TaskInstance {
	list := make([]TaskInstance, 0, len(o.tasks))
	for _, offset := range slices.Sorted(maps.Keys(o.tasks)) {
		list = append(list, o.tasks[offset])
	}

	return list
}

func (o *operator) snapshot() OperatorSnapshot {
	snap := OperatorSnapshot{
		ID:          o.id,
		Name:        o.name,
		Parallelism: o.parallelism,
		Stateful:    o.stateful,
		Logic:       o.logic.Clone(),
		Parents:     o.parentIDs(),
		Children:    o.childIDs(),
		Tasks:       o.taskList(),
		KeyState:    o.keyState.Clone(),
		KeyMapping:  make(map[int]KeyAllocation, len(o.keyMapping)),
	}
	for child, alloc := range o.keyMapping {
		snap.KeyMapping[child] = alloc.Clone()
	}

	return snap
}

func taskRef(operatorID, offset int) types.TaskRef {
	return types.TaskRef{OperatorID: operatorID, Offset: offset}
}

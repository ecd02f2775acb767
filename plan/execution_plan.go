package plan

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/arloliu/reconf/keygroup"
	"github.com/arloliu/reconf/types"
)

type node struct {
	address  string
	slots    int
	occupied map[int]types.TaskRef // slot → task
}

// ExecutionPlan is the mutable model of a running job's topology and key ownership.
//
// See the package documentation for the invariants it maintains. Methods
// validate their input completely before mutating, so a returned error means
// the plan is unchanged.
type ExecutionPlan struct {
	maxKeyGroups int
	operators    map[int]*operator
	nodes        map[string]*node
	version      uint64
	provisional  bool
	failureCause string
	logger       types.Logger
}

// New creates an empty execution plan.
//
// Parameters:
//   - maxKeyGroups: Maximum parallelism M shared by every keyed operator
//   - opts: Optional configuration
//
// Returns:
//   - *ExecutionPlan: Empty plan at version 0
//   - error: ErrInvalidParallelism if maxKeyGroups is out of range
func New(maxKeyGroups int, opts ...Option) (*ExecutionPlan, error) {
	if err := keygroup.CheckMaxKeyGroups(maxKeyGroups); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidParallelism, err)
	}

	p := &ExecutionPlan{
		maxKeyGroups: maxKeyGroups,
		operators:    make(map[int]*operator),
		nodes:        make(map[string]*node),
		logger:       defaultLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// MaxKeyGroups returns the maximum parallelism M.
func (p *ExecutionPlan) MaxKeyGroups() int {
	return p.maxKeyGroups
}

// Version returns the number of committed reconfigurations applied to the plan.
func (p *ExecutionPlan) Version() uint64 {
	return p.version
}

// Commit marks the current state as committed: the version advances and any
// provisional mark is cleared.
func (p *ExecutionPlan) Commit() uint64 {
	p.version++
	p.provisional = false
	p.failureCause = ""

	return p.version
}

// MarkProvisional records that the plan's in-memory state was not confirmed
// by the remote executor. The mark stays until the next Commit.
func (p *ExecutionPlan) MarkProvisional(cause error) {
	p.provisional = true
	if cause != nil {
		p.failureCause = cause.Error()
	}
}

// Provisional reports whether the plan carries unconfirmed changes, and why.
func (p *ExecutionPlan) Provisional() (bool, string) {
	return p.provisional, p.failureCause
}

// AddNode registers a node with the given number of slots.
func (p *ExecutionPlan) AddNode(address string, slots int) error {
	if address == "" {
		return fmt.Errorf("%w: node address is empty", types.ErrInvalidRequest)
	}
	if slots < 1 {
		return fmt.Errorf("%w: node %s needs at least one slot", types.ErrInvalidRequest, address)
	}
	if _, ok := p.nodes[address]; ok {
		return fmt.Errorf("%w: node %s already registered", types.ErrInvalidRequest, address)
	}

	p.nodes[address] = &node{address: address, slots: slots, occupied: make(map[int]types.TaskRef)}

	return nil
}

// RegisterOperator adds an operator without edges.
//
// Returns:
//   - error: ErrDuplicateOperator, ErrInvalidParallelism, ErrInvalidAllocation,
//     ErrNodeNotFound or ErrSlotUnavailable
func (p *ExecutionPlan) RegisterOperator(spec OperatorSpec) error {
	if _, ok := p.operators[spec.ID]; ok {
		return fmt.Errorf("%w: %d", types.ErrDuplicateOperator, spec.ID)
	}

	if err := p.checkParallelism(spec.Parallelism); err != nil {
		return err
	}

	keyState := spec.KeyState
	if keyState == nil && spec.Stateful {
		keyState, _ = BalancedAllocation(p.maxKeyGroups, spec.Parallelism)
	}

	if keyState != nil {
		if err := p.checkAllocation(keyState, spec.Parallelism); err != nil {
			return err
		}
	}

	op := newOperator(spec)

	seen := make(map[int]struct{}, len(spec.Placements))
	reserved := make(map[string]map[int]struct{})
	for _, placement := range spec.Placements {
		if placement.Offset < 0 || placement.Offset >= spec.Parallelism {
			return fmt.Errorf("%w: placement offset %d outside [0, %d)", types.ErrInvalidRequest, placement.Offset, spec.Parallelism)
		}
		if _, dup := seen[placement.Offset]; dup {
			return fmt.Errorf("%w: offset %d placed twice", types.ErrInvalidRequest, placement.Offset)
		}
		seen[placement.Offset] = struct{}{}

		if err := p.checkSlot(placement.Node, placement.Slot); err != nil {
			return err
		}
		if _, taken := reserved[placement.Node][placement.Slot]; taken {
			return fmt.Errorf("%w: %s slot %d requested twice", types.ErrSlotUnavailable, placement.Node, placement.Slot)
		}
		if reserved[placement.Node] == nil {
			reserved[placement.Node] = make(map[int]struct{})
		}
		reserved[placement.Node][placement.Slot] = struct{}{}
	}

	p.operators[spec.ID] = op
	for _, placement := range spec.Placements {
		p.place(op, placement.Offset, placement.Node, placement.Slot)
	}

	if keyState != nil {
		p.setKeyState(op, keyState)
	}

	return nil
}

// AddChildren connects operatorID to the targets of edges.
//
// Every edge must have operatorID as its Source and an existing Target, and
// must not close a cycle. Edges are validated as a batch; on error none is added.
func (p *ExecutionPlan) AddChildren(operatorID int, edges ...Edge) error {
	if _, err := p.lookup(operatorID); err != nil {
		return err
	}

	for _, e := range edges {
		if e.Source != operatorID {
			return fmt.Errorf("%w: edge %d->%d added as child edge of %d", types.ErrEdgeMismatch, e.Source, e.Target, operatorID)
		}
		if e.Target == operatorID {
			return fmt.Errorf("%w: self edge on %d", types.ErrEdgeMismatch, operatorID)
		}
		if _, err := p.lookup(e.Target); err != nil {
			return err
		}
		if p.reaches(e.Target, e.Source) {
			return fmt.Errorf("%w: %d->%d", types.ErrCycle, e.Source, e.Target)
		}
	}

	for _, e := range edges {
		p.connect(e.Source, e.Target)
	}

	return nil
}

// AddParents connects the sources of edges to operatorID.
//
// Every edge must have operatorID as its Target and an existing Source, and
// must not close a cycle.
func (p *ExecutionPlan) AddParents(operatorID int, edges ...Edge) error {
	if _, err := p.lookup(operatorID); err != nil {
		return err
	}

	for _, e := range edges {
		if e.Target != operatorID {
			return fmt.Errorf("%w: edge %d->%d added as parent edge of %d", types.ErrEdgeMismatch, e.Source, e.Target, operatorID)
		}
		if e.Source == operatorID {
			return fmt.Errorf("%w: self edge on %d", types.ErrEdgeMismatch, operatorID)
		}
		if _, err := p.lookup(e.Source); err != nil {
			return err
		}
		if p.reaches(e.Target, e.Source) {
			return fmt.Errorf("%w: %d->%d", types.ErrCycle, e.Source, e.Target)
		}
	}

	for _, e := range edges {
		p.connect(e.Source, e.Target)
	}

	return nil
}

// reaches reports whether to is reachable from from along child edges.
func (p *ExecutionPlan) reaches(from, to int) bool {
	seen := make(map[int]struct{})
	stack := []int{from}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id == to {
			return true
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		op, ok := p.operators[id]
		if !ok {
			continue
		}
		for childID := range op.children {
			stack = append(stack, childID)
		}
	}

	return false
}

// cyclic reports whether the graph contains a cycle.
func (p *ExecutionPlan) cyclic() bool {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[int]int, len(p.operators))

	var visit func(id int) bool
	visit = func(id int) bool {
		switch marks[id] {
		case visiting:
			return true
		case done:
			return false
		}
		marks[id] = visiting

		if op, ok := p.operators[id]; ok {
			for childID := range op.children {
				if visit(childID) {
					return true
				}
			}
		}
		marks[id] = done

		return false
	}

	for id := range p.operators {
		if visit(id) {
			return true
		}
	}

	return false
}

// connect records the edge on both endpoints and seeds the parent's routing
// toward the child.
func (p *ExecutionPlan) connect(parentID, childID int) {
	parent := p.operators[parentID]
	child := p.operators[childID]

	parent.children[childID] = struct{}{}
	child.parents[parentID] = struct{}{}

	if child.stateful {
		parent.keyMapping[childID] = child.keyState.Clone()
		return
	}

	if _, ok := parent.keyMapping[childID]; !ok {
		parent.keyMapping[childID], _ = BalancedAllocation(p.maxKeyGroups, child.parallelism)
	}
}

// Operators returns every operator id in ascending order.
func (p *ExecutionPlan) Operators() []int {
	return slices.Sorted(maps.Keys(p.operators))
}

// HasOperator reports whether id is registered.
func (p *ExecutionPlan) HasOperator(id int) bool {
	_, ok := p.operators[id]
	return ok
}

// Name returns the operator's label.
func (p *ExecutionPlan) Name(id int) (string, error) {
	op, err := p.lookup(id)
	if err != nil {
		return "", err
	}

	return op.name, nil
}

// Parents returns the ids of the operator's direct upstream operators.
func (p *ExecutionPlan) Parents(id int) ([]int, error) {
	op, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	return op.parentIDs(), nil
}

// Children returns the ids of the operator's direct downstream operators.
func (p *ExecutionPlan) Children(id int) ([]int, error) {
	op, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	return op.childIDs(), nil
}

// Parallelism returns the operator's number of instances.
func (p *ExecutionPlan) Parallelism(id int) (int, error) {
	op, err := p.lookup(id)
	if err != nil {
		return 0, err
	}

	return op.parallelism, nil
}

// SetParallelism changes the operator's instance count.
//
// New instances are added unplaced; removed instances are detached from their
// nodes. The key-state allocation and routing are not touched: callers follow
// up with Redistribute to restore a consistent allocation.
func (p *ExecutionPlan) SetParallelism(id, parallelism int) error {
	op, err := p.lookup(id)
	if err != nil {
		return err
	}

	if err := p.checkParallelism(parallelism); err != nil {
		return err
	}

	for offset := op.parallelism; offset < parallelism; offset++ {
		op.tasks[offset] = TaskInstance{Offset: offset}
	}

	for offset := parallelism; offset < op.parallelism; offset++ {
		p.detach(op, offset)
		delete(op.tasks, offset)
	}

	op.parallelism = parallelism

	return nil
}

// IsStateful reports whether the operator owns keyed state.
func (p *ExecutionPlan) IsStateful(id int) (bool, error) {
	op, err := p.lookup(id)
	if err != nil {
		return false, err
	}

	return op.stateful, nil
}

// KeyStateAllocation returns a copy of the operator's key-state allocation, or nil if stateless.
func (p *ExecutionPlan) KeyStateAllocation(id int) (KeyAllocation, error) {
	op, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	return op.keyState.Clone(), nil
}

// InitKeyStateAllocation assigns key state to an operator during plan construction.
//
// The operator becomes stateful and every parent's routing toward it is set
// to alloc.
func (p *ExecutionPlan) InitKeyStateAllocation(id int, alloc KeyAllocation) error {
	op, err := p.lookup(id)
	if err != nil {
		return err
	}

	if err := p.checkAllocation(alloc, op.parallelism); err != nil {
		return err
	}

	p.setKeyState(op, alloc)

	return nil
}

// UpdateKeyStateAllocation replaces a stateful operator's allocation and, in
// the same step, every parent's routing toward it.
//
// For a stateless operator the call is a no-op: a diagnostic is logged and an
// error wrapping ErrStatelessOperator is returned.
func (p *ExecutionPlan) UpdateKeyStateAllocation(id int, alloc KeyAllocation) error {
	op, err := p.lookup(id)
	if err != nil {
		return err
	}

	if !op.stateful {
		p.logger.Warn("ignoring key state update for stateless operator", "operator_id", id)
		return fmt.Errorf("%w: %d", types.ErrStatelessOperator, id)
	}

	if err := p.checkAllocation(alloc, op.parallelism); err != nil {
		return err
	}

	p.setKeyState(op, alloc)

	return nil
}

func (p *ExecutionPlan) setKeyState(op *operator, alloc KeyAllocation) {
	op.stateful = true
	op.keyState = alloc.Clone()

	for parentID := range op.parents {
		p.operators[parentID].keyMapping[op.id] = alloc.Clone()
	}
}

// KeyMapping returns a copy of the operator's routing tables, keyed by child id.
func (p *ExecutionPlan) KeyMapping(id int) (map[int]KeyAllocation, error) {
	op, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	out := make(map[int]KeyAllocation, len(op.keyMapping))
	for child, alloc := range op.keyMapping {
		out[child] = alloc.Clone()
	}

	return out, nil
}

// UpdateKeyMapping replaces the routing of parentID toward childID.
//
// When the child is stateful, the new routing becomes the child's key-state
// allocation and every other parent's routing toward the child is updated too.
//
// Returns:
//   - error: ErrOperatorNotFound, ErrNotChild or ErrInvalidAllocation
func (p *ExecutionPlan) UpdateKeyMapping(parentID, childID int, alloc KeyAllocation) error {
	parent, err := p.lookup(parentID)
	if err != nil {
		return err
	}

	child, err := p.lookup(childID)
	if err != nil {
		return err
	}

	if _, ok := parent.children[childID]; !ok {
		return fmt.Errorf("%w: %d is not a child of %d", types.ErrNotChild, childID, parentID)
	}

	if err := p.checkAllocation(alloc, child.parallelism); err != nil {
		return err
	}

	if child.stateful {
		p.setKeyState(child, alloc)
		return nil
	}

	parent.keyMapping[childID] = alloc.Clone()

	return nil
}

// Redistribute installs alloc as the operator's key distribution.
//
// A stateful operator gets alloc as its key-state allocation; for a stateless
// operator alloc becomes the routing of each of its parents.
func (p *ExecutionPlan) Redistribute(id int, alloc KeyAllocation) error {
	op, err := p.lookup(id)
	if err != nil {
		return err
	}

	if err := p.checkAllocation(alloc, op.parallelism); err != nil {
		return err
	}

	if op.stateful {
		p.setKeyState(op, alloc)
		return nil
	}

	for parentID := range op.parents {
		p.operators[parentID].keyMapping[id] = alloc.Clone()
	}

	return nil
}

// Logic returns a copy of the operator's processing-logic record.
func (p *ExecutionPlan) Logic(id int) (Logic, error) {
	op, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	return op.logic.Clone(), nil
}

// SetLogic replaces the operator's processing-logic record wholesale.
func (p *ExecutionPlan) SetLogic(id int, logic Logic) error {
	op, err := p.lookup(id)
	if err != nil {
		return err
	}

	op.logic = logic.Clone()
	if op.logic == nil {
		op.logic = Logic{}
	}

	return nil
}

// Tasks returns the operator's instances ordered by offset.
func (p *ExecutionPlan) Tasks(id int) ([]TaskInstance, error) {
	op, err := p.lookup(id)
	if err != nil {
		return nil, err
	}

	return op.taskList(), nil
}

// PlaceTask assigns an instance to a slot on a node, detaching it from any previous slot.
func (p *ExecutionPlan) PlaceTask(id, offset int, address string, slot int) error {
	op, err := p.lookup(id)
	if err != nil {
		return err
	}

	if _, ok := op.tasks[offset]; !ok {
		return fmt.Errorf("%w: operator %d has no instance %d", types.ErrInvalidRequest, id, offset)
	}

	if cur := op.tasks[offset]; cur.Node == address && cur.Slot == slot {
		return nil
	}

	if err := p.checkSlot(address, slot); err != nil {
		return err
	}

	p.detach(op, offset)
	p.place(op, offset, address, slot)

	return nil
}

// DeployedTasks returns the tasks placed on a node ordered by slot.
func (p *ExecutionPlan) DeployedTasks(address string) ([]types.TaskRef, error) {
	n, ok := p.nodes[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNodeNotFound, address)
	}

	refs := make([]types.TaskRef, 0, len(n.occupied))
	for _, slot := range slices.Sorted(maps.Keys(n.occupied)) {
		refs = append(refs, n.occupied[slot])
	}

	return refs, nil
}

// Nodes returns the registered node addresses in sorted order.
func (p *ExecutionPlan) Nodes() []string {
	return slices.Sorted(maps.Keys(p.nodes))
}

func (p *ExecutionPlan) place(op *operator, offset int, address string, slot int) {
	op.tasks[offset] = TaskInstance{Offset: offset, Node: address, Slot: slot}
	p.nodes[address].occupied[slot] = taskRef(op.id, offset)
}

func (p *ExecutionPlan) detach(op *operator, offset int) {
	task, ok := op.tasks[offset]
	if !ok || !task.Placed() {
		return
	}

	if n, ok := p.nodes[task.Node]; ok {
		delete(n.occupied, task.Slot)
	}
	op.tasks[offset] = TaskInstance{Offset: offset}
}

func (p *ExecutionPlan) lookup(id int) (*operator, error) {
	op, ok := p.operators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrOperatorNotFound, id)
	}

	return op, nil
}

func (p *ExecutionPlan) checkParallelism(parallelism int) error {
	if err := keygroup.CheckParallelism(p.maxKeyGroups, parallelism); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidParallelism, err)
	}

	return nil
}

func (p *ExecutionPlan) checkAllocation(alloc KeyAllocation, parallelism int) error {
	if len(alloc) != parallelism {
		return fmt.Errorf("%w: allocation has %d instances, operator has %d",
			types.ErrInvalidAllocation, len(alloc), parallelism)
	}

	return alloc.Validate(p.maxKeyGroups)
}

func (p *ExecutionPlan) checkSlot(address string, slot int) error {
	n, ok := p.nodes[address]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNodeNotFound, address)
	}

	if slot < 0 || slot >= n.slots {
		return fmt.Errorf("%w: %s has no slot %d", types.ErrSlotUnavailable, address, slot)
	}

	if occupant, taken := n.occupied[slot]; taken {
		return fmt.Errorf("%w: %s slot %d held by %s", types.ErrSlotUnavailable, address, slot, occupant)
	}

	return nil
}

// Validate checks every plan invariant and returns all violations joined.
func (p *ExecutionPlan) Validate() error {
	var errs []error

	for _, id := range p.Operators() {
		op := p.operators[id]

		if len(op.tasks) != op.parallelism {
			errs = append(errs, fmt.Errorf("operator %d: %d tasks for parallelism %d", id, len(op.tasks), op.parallelism))
		}

		if op.stateful {
			if err := p.checkAllocation(op.keyState, op.parallelism); err != nil {
				errs = append(errs, fmt.Errorf("operator %d key state: %w", id, err))
			}
		}

		for childID := range op.children {
			child, ok := p.operators[childID]
			if !ok {
				errs = append(errs, fmt.Errorf("operator %d: %w: child %d", id, types.ErrOperatorNotFound, childID))
				continue
			}
			if _, ok := child.parents[id]; !ok {
				errs = append(errs, fmt.Errorf("operator %d: child %d does not list it as parent", id, childID))
			}

			mapping, ok := op.keyMapping[childID]
			if !ok {
				errs = append(errs, fmt.Errorf("operator %d: no key mapping toward child %d", id, childID))
				continue
			}
			if child.stateful && !mapping.Equal(child.keyState) {
				errs = append(errs, fmt.Errorf("operator %d: key mapping toward %d differs from its key state", id, childID))
			}
		}

		for childID := range op.keyMapping {
			if _, ok := op.children[childID]; !ok {
				errs = append(errs, fmt.Errorf("operator %d: %w: key mapping for %d", id, types.ErrNotChild, childID))
			}
		}

		for parentID := range op.parents {
			parent, ok := p.operators[parentID]
			if !ok {
				errs = append(errs, fmt.Errorf("operator %d: %w: parent %d", id, types.ErrOperatorNotFound, parentID))
				continue
			}
			if _, ok := parent.children[id]; !ok {
				errs = append(errs, fmt.Errorf("operator %d: parent %d does not list it as child", id, parentID))
			}
		}

		for offset, task := range op.tasks {
			if !task.Placed() {
				continue
			}
			n, ok := p.nodes[task.Node]
			if !ok || n.occupied[task.Slot] != taskRef(id, offset) {
				errs = append(errs, fmt.Errorf("operator %d: instance %d not registered on %s slot %d", id, offset, task.Node, task.Slot))
			}
		}
	}

	for _, address := range p.Nodes() {
		for slot, ref := range p.nodes[address].occupied {
			op, ok := p.operators[ref.OperatorID]
			if !ok || op.tasks[ref.Offset].Node != address || op.tasks[ref.Offset].Slot != slot {
				errs = append(errs, fmt.Errorf("node %s: slot %d lists %s which is not placed there", address, slot, ref))
			}
		}
	}

	if p.cyclic() {
		errs = append(errs, fmt.Errorf("%w: operator graph is not acyclic", types.ErrCycle))
	}

	return errors.Join(errs...)
}

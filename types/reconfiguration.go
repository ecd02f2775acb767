package types

import (
	"strconv"
	"time"
)

// Kind identifies the type of a reconfiguration request.
type Kind int

const (
	// KindRescale changes an operator's parallelism and redistributes its key groups.
	KindRescale Kind = iota

	// KindRebalance redistributes an operator's key groups at fixed parallelism.
	KindRebalance

	// KindLogicSwap replaces an operator's processing logic.
	KindLogicSwap

	// KindNoOp runs a synchronize and resume cycle without changing the plan.
	KindNoOp
)

// String returns the metric-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRescale:
		return "rescale"
	case KindRebalance:
		return "rebalance"
	case KindLogicSwap:
		return "logic_swap"
	case KindNoOp:
		return "noop"
	default:
		return "unknown"
	}
}

// Phase is one step of the reconfiguration protocol.
//
// Phases are numbered in protocol order. Each reconfiguration kind runs an
// ordered subset of them.
type Phase int

const (
	// PhasePrepare pushes the updated plan to the remote executor.
	PhasePrepare Phase = iota + 1

	// PhaseSynchronize quiesces the affected task instances at a consistent point.
	PhaseSynchronize

	// PhaseUpdateKeyMapping installs new routing tables on upstream instances.
	PhaseUpdateKeyMapping

	// PhaseUpdateKeyState migrates key-group state to its new owners.
	PhaseUpdateKeyState

	// PhaseResize deploys or cancels task instances.
	PhaseResize

	// PhaseUpdateFunction swaps processing logic on the target instances.
	PhaseUpdateFunction

	// PhaseResume releases quiesced instances.
	PhaseResume
)

// String returns the metric-friendly name of the phase.
func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseSynchronize:
		return "synchronize"
	case PhaseUpdateKeyMapping:
		return "update_key_mapping"
	case PhaseUpdateKeyState:
		return "update_key_state"
	case PhaseResize:
		return "resize"
	case PhaseUpdateFunction:
		return "update_function"
	case PhaseResume:
		return "resume"
	default:
		return "unknown"
	}
}

// AllInstances is the TaskRef offset addressing every instance of an operator.
const AllInstances = -1

// TaskRef addresses one instance of an operator, or all of them when Offset is AllInstances.
type TaskRef struct {
	OperatorID int `json:"operator_id"`
	Offset     int `json:"offset"`
}

// AllTasks returns a TaskRef addressing every instance of the operator.
func AllTasks(operatorID int) TaskRef {
	return TaskRef{OperatorID: operatorID, Offset: AllInstances}
}

// IsAll reports whether the reference addresses every instance.
func (r TaskRef) IsAll() bool {
	return r.Offset == AllInstances
}

func (r TaskRef) String() string {
	if r.IsAll() {
		return strconv.Itoa(r.OperatorID) + "[*]"
	}

	return strconv.Itoa(r.OperatorID) + "[" + strconv.Itoa(r.Offset) + "]"
}

// ControlPolicy is the caller of a reconfiguration.
//
// The coordinator holds the policy as the single owner of the in-flight
// reconfiguration and calls OnUpdateFinished exactly once when the protocol
// completes. The owner is released before the callback runs, so the policy may
// submit its next request from inside the callback.
type ControlPolicy interface {
	// OnUpdateFinished is called with nil on success or the failure cause.
	OnUpdateFinished(err error)
}

// ControlPolicyFunc adapts a function to the ControlPolicy interface.
type ControlPolicyFunc func(err error)

// OnUpdateFinished calls f(err).
func (f ControlPolicyFunc) OnUpdateFinished(err error) {
	f(err)
}

// Result describes a finished reconfiguration.
type Result struct {
	// ID uniquely identifies the reconfiguration.
	ID string

	// Kind is the reconfiguration kind.
	Kind Kind

	// OperatorID is the target operator.
	OperatorID int

	// Phases lists the phases that completed, in order.
	Phases []Phase

	// Duration is the wall time from acceptance to completion.
	Duration time.Duration

	// Err is nil on success.
	Err error
}

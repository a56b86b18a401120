// Package fsm is the generic table-driven finite state machine runtime
// shared by the CLA and CTRL plugins.
//
// A Machine is a table of (state, event) -> Transition pairs. Unlike the
// teacher's per-opcode transition tables (sibench's foreman.go
// validTcpTransitions / validWorkerTransitions, which only encode the
// forced next state), a Transition here also carries the operation to run,
// so the same table doubles as the dispatch mechanism.
package fsm

import (
	"fmt"
)

// Signal is the result an Operation returns to tell the Machine what to do
// about its own state.
type Signal int

const (
	// KeepState means the operation ran but the state should not change
	// (besides any forced_next_state already applied).
	KeepState Signal = iota
	// NewState means the operation wants an explicit transition.
	NewState
	// ErrorSignal routes to the Machine's failsafe operation, whose
	// return value cannot then be overridden by ForcedNext.
	ErrorSignal
)

// Result is returned by an Operation.
type Result struct {
	Signal Signal
	Next   int // only meaningful when Signal == NewState
	Err    error
}

// Keep is the Result an Operation returns when it made no self-transition.
func Keep() Result { return Result{Signal: KeepState} }

// Goto is the Result an Operation returns to move to an explicit state.
func Goto(state int) Result { return Result{Signal: NewState, Next: state} }

// Fail is the Result an Operation returns on a precondition violation. It
// routes to the Machine's failsafe operation.
func Fail(err error) Result { return Result{Signal: ErrorSignal, Err: err} }

// Operation runs the side effects for a (state, event) pair and reports how
// the state should change.
type Operation func(ctx interface{}, payload interface{}) Result

// Transition is one entry of the dispatch table.
type Transition struct {
	// ForcedNext, if >= 0, overrides whatever the Operation returned,
	// provided the Operation did not signal ErrorSignal. This mirrors
	// the teacher's validTcpTransitions maps, which are pure
	// (state,event)->state tables with no operation attached.
	ForcedNext int
	Op         Operation
}

// NoForce is the sentinel for "do not override the operation's result".
const NoForce = -1

// Hooks are the optional callbacks invoked around every event.
type Hooks struct {
	// PreOp runs before the table's Operation, and may itself be nil.
	PreOp func(ctx interface{}, state int, event int, payload interface{})
	// OnTransition runs after a state change has been committed.
	OnTransition func(ctx interface{}, prev, next int, event int)
	// Failsafe is invoked in place of Op when a Result carries
	// ErrorSignal, or when no transition exists for (state, event) and
	// Strict is set. Its return value is never overridden by ForcedNext.
	Failsafe Operation
}

// Machine is a single FSM instance: a transition table plus current state.
// Machine is not safe for concurrent use; each owning event loop must serialize
// access, exactly as the teacher's Foreman/Worker event loops do.
type Machine struct {
	name   string
	nState int
	table  map[int]map[int]Transition
	hooks  Hooks
	state  int
	ctx    interface{}

	// Strict, when true, routes any (state,event) pair missing from the
	// table to the failsafe instead of silently doing nothing. CLA and
	// CTRL both run with Strict=true; table gaps are precondition bugs.
	Strict bool
}

// New builds a Machine with nState states numbered [0, nState), starting in
// initial. ctx is the opaque context handed to every Operation and hook.
func New(name string, nState int, initial int, ctx interface{}, hooks Hooks) *Machine {
	return &Machine{
		name:   name,
		nState: nState,
		table:  make(map[int]map[int]Transition),
		hooks:  hooks,
		state:  initial,
		ctx:    ctx,
		Strict: true,
	}
}

// On registers a transition for (state, event).
func (m *Machine) On(state, event int, t Transition) {
	row, ok := m.table[state]
	if !ok {
		row = make(map[int]Transition)
		m.table[state] = row
	}
	row[event] = t
}

// State reports the current state.
func (m *Machine) State() int {
	return m.state
}

// assertInRange panics on a state-invariant violation: a bug, not a
// recoverable condition, matching spec's "assert" entries.
func (m *Machine) assertInRange(where string) {
	if m.state < 0 || m.state >= m.nState {
		panic(fmt.Sprintf("fsm %s: state %d out of range [0,%d) at %s", m.name, m.state, m.nState, where))
	}
}

// Fire dispatches a single event into the machine. It is not reentrant:
// Operations must not call Fire on the same Machine.
func (m *Machine) Fire(event int, payload interface{}) error {
	m.assertInRange("entry")

	if m.hooks.PreOp != nil {
		m.hooks.PreOp(m.ctx, m.state, event, payload)
	}

	t, ok := m.lookup(m.state, event)
	prev := m.state

	var res Result
	viaFailsafe := false
	if !ok {
		if m.Strict {
			res = m.runFailsafe(fmt.Errorf("fsm %s: no transition for state=%d event=%d", m.name, m.state, event))
			viaFailsafe = true
		} else {
			res = Keep()
		}
	} else {
		res = t.Op(m.ctx, payload)
		if res.Signal == ErrorSignal {
			res = m.runFailsafe(res.Err)
			viaFailsafe = true
		}
	}

	switch res.Signal {
	case NewState:
		m.state = res.Next
	case KeepState:
		// no self-transition from the operation
	}

	// A forced next state only applies when the table entry exists and
	// the result did not come from the failsafe path: the failsafe's
	// return cannot be overridden (spec §4.1 step 3).
	if ok && t.ForcedNext != NoForce && !viaFailsafe {
		m.state = t.ForcedNext
	}

	m.assertInRange("exit")

	if m.state != prev && m.hooks.OnTransition != nil {
		m.hooks.OnTransition(m.ctx, prev, m.state, event)
	}

	return res.Err
}

func (m *Machine) lookup(state, event int) (Transition, bool) {
	row, ok := m.table[state]
	if !ok {
		return Transition{}, false
	}
	t, ok := row[event]
	return t, ok
}

func (m *Machine) runFailsafe(err error) Result {
	if m.hooks.Failsafe == nil {
		panic(fmt.Sprintf("fsm %s: failsafe triggered with no failsafe operation installed: %v", m.name, err))
	}
	res := m.hooks.Failsafe(m.ctx, err)
	if res.Err == nil {
		res.Err = err
	}
	return res
}

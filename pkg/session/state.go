package session

import (
	"errors"
	"fmt"
)

// ErrStateViolation is returned when an operation is invoked in a state that
// does not allow it. The automaton is left untouched.
var ErrStateViolation = errors.New("operation not allowed in current state")

// State is the single process-wide automaton state.
type State string

// The thirteen automaton states. Init is entered once at startup, Idle is
// the resting state between sessions and Done is terminal.
const (
	StateInit          State = "init"
	StateIdle          State = "idle"
	StateSearching     State = "searching"
	StateMounting      State = "mounting"
	StateMounted       State = "mounted"
	StateNoUpdateFound State = "noupdatefound"
	StateUpdateFound   State = "updatefound"
	StateSkip          State = "skip"
	StateUnmounting    State = "unmounting"
	StateUnmounted     State = "unmounted"
	StateUpdating      State = "updating"
	StateUpdated       State = "updated"
	StateDone          State = "done"
)

// transitions is the explicit edge set of the automaton. Anything not listed
// here is a state violation.
var transitions = map[State][]State{
	StateInit:          {StateIdle},
	StateIdle:          {StateSearching},
	StateSearching:     {StateMounting, StateNoUpdateFound},
	StateMounting:      {StateMounted, StateNoUpdateFound},
	StateMounted:       {StateUpdateFound, StateNoUpdateFound},
	StateUpdateFound:   {StateSkip, StateUpdating},
	StateNoUpdateFound: {StateUnmounting},
	StateSkip:          {StateUnmounting},
	StateUpdating:      {StateUpdated, StateUnmounting},
	StateUpdated:       {StateUnmounting},
	StateUnmounting:    {StateUnmounted},
	StateUnmounted:     {StateDone, StateIdle},
	StateDone:          {},
}

// CanTransition reports whether the automaton may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func stateViolation(op string, state State) error {
	return fmt.Errorf("%w: %s in state %q", ErrStateViolation, op, state)
}

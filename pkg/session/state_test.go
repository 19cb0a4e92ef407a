package session

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateInit, StateIdle, true},
		{StateIdle, StateSearching, true},
		{StateSearching, StateMounting, true},
		{StateSearching, StateNoUpdateFound, true},
		{StateMounting, StateMounted, true},
		{StateMounting, StateNoUpdateFound, true},
		{StateMounted, StateUpdateFound, true},
		{StateMounted, StateNoUpdateFound, true},
		{StateUpdateFound, StateSkip, true},
		{StateUpdateFound, StateUpdating, true},
		{StateNoUpdateFound, StateUnmounting, true},
		{StateSkip, StateUnmounting, true},
		{StateUpdating, StateUpdated, true},
		{StateUpdating, StateUnmounting, true},
		{StateUpdated, StateUnmounting, true},
		{StateUnmounting, StateUnmounted, true},
		{StateUnmounted, StateDone, true},
		{StateUnmounted, StateIdle, true},

		{StateInit, StateSearching, false},
		{StateIdle, StateMounting, false},
		{StateIdle, StateIdle, false},
		{StateSearching, StateUpdateFound, false},
		{StateMounted, StateUpdating, false},
		{StateUpdateFound, StateUnmounting, false},
		{StateUpdating, StateIdle, false},
		{StateDone, StateIdle, false},
		{StateDone, StateSearching, false},
		{StateUnmounted, StateSearching, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEveryStateHasAnEntry(t *testing.T) {
	states := []State{
		StateInit, StateIdle, StateSearching, StateMounting, StateMounted,
		StateNoUpdateFound, StateUpdateFound, StateSkip, StateUnmounting,
		StateUnmounted, StateUpdating, StateUpdated, StateDone,
	}
	for _, state := range states {
		if _, ok := transitions[state]; !ok {
			t.Errorf("state %q has no entry in the transition table", state)
		}
	}
	if len(transitions) != len(states) {
		t.Errorf("transition table has %d entries, want %d", len(transitions), len(states))
	}
}

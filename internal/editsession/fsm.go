// Package editsession drives a weekly schedule edit from save through conflict
// resolution to persistence.
package editsession

import (
	"fmt"
	"time"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/pending"
)

// State represents the current state of an edit session.
type State string

const (
	StateIdle               State = "idle"
	StateEditing            State = "editing"
	StateSaving             State = "saving"
	StateConflictsFound     State = "conflicts_found"
	StateAwaitingResolution State = "awaiting_resolution"
	StateOverlap            State = "overlap"
	StateMakePriority       State = "make_priority"
	StatePersisting         State = "persisting"
)

// FSM manages state transitions for edit sessions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:               {StateEditing},
			StateEditing:            {StateSaving},
			StateSaving:             {StateConflictsFound, StatePersisting, StateEditing},
			StateConflictsFound:     {StateAwaitingResolution},
			StateAwaitingResolution: {StateOverlap, StateMakePriority, StateEditing},
			StateOverlap:            {StatePersisting},
			StateMakePriority:       {StatePersisting},
			StatePersisting:         {StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the edit to state to, or returns ErrInvalidTransition.
func (f *FSM) Transition(edit *pending.Edit, to State, now time.Time) error {
	from := State(edit.State)
	if !f.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	edit.State = string(to)
	edit.UpdatedAt = now
	return nil
}

// strategyState maps a resolution strategy to the state that applies it.
func strategyState(s conflicts.Strategy) (State, error) {
	switch s {
	case conflicts.StrategyOverlap:
		return StateOverlap, nil
	case conflicts.StrategyMakePriority:
		return StateMakePriority, nil
	}
	return "", fmt.Errorf("%w: %q", conflicts.ErrUnknownStrategy, s)
}

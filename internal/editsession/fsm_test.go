package editsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scheduleguard/internal/conflicts"
	"scheduleguard/internal/pending"
)

func TestFSMTransitions(t *testing.T) {
	fsm := NewFSM()

	tests := []struct {
		name        string
		from        State
		to          State
		shouldAllow bool
	}{
		{"idle to editing", StateIdle, StateEditing, true},
		{"editing to saving", StateEditing, StateSaving, true},
		{"saving to persisting", StateSaving, StatePersisting, true},
		{"saving to conflicts found", StateSaving, StateConflictsFound, true},
		{"saving back to editing", StateSaving, StateEditing, true},
		{"conflicts found to awaiting", StateConflictsFound, StateAwaitingResolution, true},
		{"awaiting to overlap", StateAwaitingResolution, StateOverlap, true},
		{"awaiting to make priority", StateAwaitingResolution, StateMakePriority, true},
		{"awaiting cancel to editing", StateAwaitingResolution, StateEditing, true},
		{"overlap to persisting", StateOverlap, StatePersisting, true},
		{"make priority to persisting", StateMakePriority, StatePersisting, true},
		{"persisting to idle", StatePersisting, StateIdle, true},
		// Invalid transitions
		{"idle to saving", StateIdle, StateSaving, false},
		{"editing to persisting", StateEditing, StatePersisting, false},
		{"conflicts found straight to overlap", StateConflictsFound, StateOverlap, false},
		{"awaiting to persisting", StateAwaitingResolution, StatePersisting, false},
		{"persisting to editing", StatePersisting, StateEditing, false},
		{"unknown state", State("bogus"), StateIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shouldAllow, fsm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestFSMTransitionUpdatesEdit(t *testing.T) {
	fsm := NewFSM()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	edit := &pending.Edit{State: string(StateIdle)}

	require.NoError(t, fsm.Transition(edit, StateEditing, now))
	assert.Equal(t, string(StateEditing), edit.State)
	assert.Equal(t, now, edit.UpdatedAt)

	err := fsm.Transition(edit, StateIdle, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, string(StateEditing), edit.State)
}

func TestStrategyState(t *testing.T) {
	s, err := strategyState(conflicts.StrategyOverlap)
	require.NoError(t, err)
	assert.Equal(t, StateOverlap, s)

	s, err = strategyState(conflicts.StrategyMakePriority)
	require.NoError(t, err)
	assert.Equal(t, StateMakePriority, s)

	_, err = strategyState("keep")
	assert.ErrorIs(t, err, conflicts.ErrUnknownStrategy)
}

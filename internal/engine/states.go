// Package engine implements the task and workflow state machines
// (SPEC_FULL §4.4, §4.5), grounded on Mistral's engine1/states.py transition
// table, and the reverse-workflow dependency closure.
package engine

import (
	"fmt"

	"orchestra/pkg/models"
)

// validTransitions enumerates every state a workflow or task execution may
// move to from its current state. Both FSMs share this table: a task and a
// workflow execution are the same shape of state machine, only the events
// that drive each differ.
var validTransitions = map[models.State][]models.State{
	models.StateIdle:    {models.StateRunning, models.StateError},
	models.StateRunning: {models.StateStopped, models.StateDelayed, models.StateSuccess, models.StateError},
	models.StateStopped: {models.StateRunning, models.StateError},
	models.StateDelayed: {models.StateRunning, models.StateError},
	models.StateSuccess: {},
	models.StateError:   {},
}

// ErrInvalidTransition is returned when a caller asks for a transition the
// table above does not allow.
type ErrInvalidTransition struct {
	From models.State
	To   models.State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether moving from `from` to `to` is legal. A
// self-transition is always legal for any state that appears in the table,
// matching engine1/states.py's is_valid_transition(s, s).
func CanTransition(from, to models.State) bool {
	if _, known := validTransitions[from]; known && from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates and returns `to`, or an *ErrInvalidTransition.
func Transition(from, to models.State) (models.State, error) {
	if !CanTransition(from, to) {
		return from, &ErrInvalidTransition{From: from, To: to}
	}
	return to, nil
}

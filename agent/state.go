package agent

import "github.com/quantfleet/quantfleet/types"

// State is an agent's lifecycle state.
type State string

const (
	StateIdle     State = "idle"     // ready for a task
	StateThinking State = "thinking" // building a thought from task + memories
	StateActing   State = "acting"   // executing the decided action
	StateWaiting  State = "waiting"  // paused, e.g. by emergency response
	StateError    State = "error"    // unhandled fault, recoverable via Reset only
)

// validTransitions defines the legal lifecycle transitions.
var validTransitions = map[State][]State{
	StateIdle:     {StateThinking, StateWaiting},
	StateThinking: {StateActing, StateError},
	StateActing:   {StateIdle, StateError},
	StateWaiting:  {StateIdle},
	StateError:    {StateIdle}, // explicit Reset only
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionError builds the uniform invalid-transition error.
func transitionError(from, to State) error {
	return types.Errorf(types.ErrInvalidTransition, "invalid state transition: %s -> %s", from, to)
}

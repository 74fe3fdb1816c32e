package controller

import "fmt"

// State is a controller state.
type State string

// Controller states.
const (
	StateInit        State = "INIT"
	StateTriggered   State = "TRIGGERED"
	StatePolling     State = "POLLING"
	StateClassifying State = "CLASSIFYING"
	StateFixing      State = "FIXING"
	StateCommitting  State = "COMMITTING"
	StateRetriggered State = "RETRIGGERED"
	StateSucceeded   State = "SUCCEEDED"
	StateEscalated   State = "ESCALATED"
)

// transitions lists the legal successors of each non-terminal state.
var transitions = map[State][]State{
	StateInit:        {StateTriggered, StateEscalated},
	StateTriggered:   {StatePolling, StateEscalated},
	StatePolling:     {StateSucceeded, StateClassifying, StateEscalated},
	StateClassifying: {StateFixing, StateEscalated},
	StateFixing:      {StateCommitting, StateEscalated},
	StateCommitting:  {StateRetriggered, StateEscalated},
	StateRetriggered: {StatePolling, StateEscalated},
}

// Terminal reports whether s ends the chain.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateEscalated
}

// Mutating reports whether s changes the working tree, the remote or the
// knowledge store and must not be interrupted halfway.
func (s State) Mutating() bool {
	return s == StateInit || s == StateFixing || s == StateCommitting
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal transition.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

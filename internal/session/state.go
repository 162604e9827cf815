// Package session implements the client-side state machine governing
// identity, puzzle progress, and chat turns.
package session

// State is the controller's view state.
type State int

const (
	// StateUninitialized is the state before Initialize has run.
	StateUninitialized State = iota
	// StateJoining waits for an explicit join with a display name.
	StateJoining
	// StateAutoRejoining is a silent join attempt with a remembered name.
	StateAutoRejoining
	// StatePlaying holds an active puzzle.
	StatePlaying
	// StateSubmitting has an attempt in flight.
	StateSubmitting
	// StateVictory means every stage has been cleared.
	StateVictory
	// StateErrored is terminal: model metadata could not be loaded.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateJoining:
		return "joining"
	case StateAutoRejoining:
		return "auto_rejoining"
	case StatePlaying:
		return "playing"
	case StateSubmitting:
		return "submitting"
	case StateVictory:
		return "victory"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

package assembler

import (
	"fmt"

	"ctxpilot/internal/logging"
)

// State is the phase of one model turn.
type State int

const (
	Idle State = iota
	Assembling
	Sent
	Streaming
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Assembling:
		return "assembling"
	case Sent:
		return "sent"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Done || s == Failed }

// transitions lists the legal successors of each non-terminal state.
// Streaming may return to Assembling when the model requested tools and the
// turn continues with another round.
var transitions = map[State][]State{
	Idle:       {Assembling},
	Assembling: {Sent},
	Sent:       {Streaming},
	Streaming:  {Done, Assembling},
}

// Turn tracks the state machine of one user message through to the final
// model response.
type Turn struct {
	ID     string
	state  State
	err    error
	rounds int
}

// NewTurn starts a turn in Idle.
func NewTurn(id string) *Turn {
	return &Turn{ID: id}
}

// State returns the current phase.
func (t *Turn) State() State { return t.state }

// Err returns the failure of a turn in the error state.
func (t *Turn) Err() error { return t.err }

// Rounds returns how many times the turn entered Assembling.
func (t *Turn) Rounds() int { return t.rounds }

// To moves the turn to a new state. Illegal transitions return an error and
// leave the state unchanged.
func (t *Turn) To(next State) error {
	if next == Failed {
		return fmt.Errorf("use Fail to enter the error state")
	}
	for _, s := range transitions[t.state] {
		if s == next {
			logging.AssemblerDebug("turn %s: %s -> %s", t.ID, t.state, next)
			t.state = next
			if next == Assembling {
				t.rounds++
			}
			return nil
		}
	}
	return fmt.Errorf("illegal turn transition %s -> %s", t.state, next)
}

// Fail moves any non-terminal turn to the error state.
func (t *Turn) Fail(err error) error {
	if t.state.Terminal() {
		return fmt.Errorf("illegal turn transition %s -> %s", t.state, Failed)
	}
	logging.AssemblerDebug("turn %s: %s -> error: %v", t.ID, t.state, err)
	t.state = Failed
	t.err = err
	return nil
}

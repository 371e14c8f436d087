package gate

import (
	"errors"
	"fmt"
	"strings"
)

type State string

const (
	StatePending        State = "PENDING"
	StateSpawned        State = "SPAWNED"
	StateAwaitingResult State = "AWAITING_RESULT"
	StatePassed         State = "PASSED"
	StateFailed         State = "FAILED"
	StateTimedOut       State = "TIMED_OUT"
)

var ErrInvalidTransition = errors.New("invalid gate transition")

// ErrAlreadyResolved is returned when a terminal gate, or its artifact, is
// written a second time within the same attempt.
var ErrAlreadyResolved = errors.New("gate already resolved")

var transitions = map[State][]State{
	StatePending:        {StateSpawned, StateFailed},
	StateSpawned:        {StateAwaitingResult, StateFailed, StateTimedOut},
	StateAwaitingResult: {StatePassed, StateFailed, StateTimedOut},
}

func (s State) Terminal() bool {
	return s == StatePassed || s == StateFailed || s == StateTimedOut
}

func CanTransition(from State, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseState(raw string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(raw)))
	switch state {
	case StatePending, StateSpawned, StateAwaitingResult, StatePassed, StateFailed, StateTimedOut:
		return state, nil
	}
	return "", fmt.Errorf("unknown gate state %q", raw)
}

// machine tracks one gate attempt and rejects illegal moves.
type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StatePending, history: []State{StatePending}}
}

func (m *machine) advance(to State) error {
	if m.state.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, m.state)
	}
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}

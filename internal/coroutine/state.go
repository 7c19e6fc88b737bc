package coroutine

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a coroutine.
type State int

const (
	// StateUnknown is used whenever evidence is missing or contradictory.
	StateUnknown State = iota
	StateCreated
	StateNew
	StateRunning
	StateSuspended
	StateSuspendedCancelling
	StateSuspendedCompleting
	StateCancelled
	StateCompleted
)

var stateNames = map[State]string{
	StateUnknown:             "UNKNOWN",
	StateCreated:             "CREATED",
	StateNew:                 "NEW",
	StateRunning:             "RUNNING",
	StateSuspended:           "SUSPENDED",
	StateSuspendedCancelling: "SUSPENDED_CANCELLING",
	StateSuspendedCompleting: "SUSPENDED_COMPLETING",
	StateCancelled:           "CANCELLED",
	StateCompleted:           "COMPLETED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses an upper-case state name as reported by the debug agent.
// Anything unrecognised is StateUnknown.
func ParseState(name string) State {
	name = strings.ToUpper(strings.TrimSpace(name))
	for state, n := range stateNames {
		if n == name {
			return state
		}
	}
	return StateUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	*s = ParseState(string(text))
	return nil
}

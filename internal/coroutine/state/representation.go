package state

import (
	"fmt"
	"regexp"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
)

// stateWords maps the state word of a coroutine's printable representation.
// Any other word is StateUnknown.
var stateWords = map[string]coroutine.State{
	"Active":     coroutine.StateRunning,
	"Cancelling": coroutine.StateSuspendedCancelling,
	"Completing": coroutine.StateSuspendedCompleting,
	"Cancelled":  coroutine.StateCancelled,
	"Completed":  coroutine.StateCompleted,
	"New":        coroutine.StateNew,
}

// Pattern recognises the printable representation of a coroutine, e.g.
// "StandaloneCoroutine{Active}@1a2b3c".
type Pattern struct {
	re *regexp.Regexp
}

// CompilePattern compiles a representation pattern. Group 1 must capture the
// state word and group 2 the hex address. The match must end the string; a
// prefix such as a debug-mode name is allowed.
func CompilePattern(expr string) (*Pattern, error) {
	re, err := regexp.Compile("(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid state pattern: %w", err)
	}
	if re.NumSubexp() != 2 {
		return nil, fmt.Errorf("state pattern %q must have 2 capture groups, has %d", expr, re.NumSubexp())
	}
	return &Pattern{re: re}, nil
}

var defaultPattern = func() *Pattern {
	p, err := CompilePattern(mirror.DefaultLayout().StatePattern)
	if err != nil {
		panic(err)
	}
	return p
}()

// Parse extracts the state and the hex address from s. ok is false when s
// does not match; the state is then StateUnknown.
func (p *Pattern) Parse(s string) (state coroutine.State, address string, ok bool) {
	m := p.re.FindStringSubmatch(s)
	if m == nil {
		return coroutine.StateUnknown, "", false
	}
	state, known := stateWords[m[1]]
	if !known {
		state = coroutine.StateUnknown
	}
	return state, m[2], true
}

// ParseRepresentation parses s with the default kotlinx.coroutines pattern.
func ParseRepresentation(s string) (coroutine.State, string, bool) {
	return defaultPattern.Parse(s)
}

// Package classify decides which native frames are coroutine machinery.
//
// A boundary frame is where the coroutine runtime dispatches into, or
// resumes from, suspended state: the compiler-generated invokeSuspend
// method of a continuation (often with a synthetic negative line number)
// or the resumeWith entry point. Live and recovered stacks are spliced
// together at such a frame. Classification is a pure function of the code
// location.
package classify

import (
	"strings"

	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// Kind is the classification of a native frame.
type Kind uint8

const (
	Ordinary Kind = iota
	Boundary
)

func (k Kind) String() string {
	if k == Boundary {
		return "boundary"
	}
	return "ordinary"
}

// ExitMode tells how the continuation is reached from a boundary frame.
type ExitMode uint8

const (
	// ExitNone means the frame carries no continuation.
	ExitNone ExitMode = iota
	// ExitSuspendLambda: the continuation is the frame's receiver.
	ExitSuspendLambda
	// ExitSuspendMethod: the continuation is held in a named local slot.
	ExitSuspendMethod
)

func (m ExitMode) String() string {
	switch m {
	case ExitSuspendLambda:
		return "suspend-lambda"
	case ExitSuspendMethod:
		return "suspend-method"
	default:
		return "none"
	}
}

// Classifier classifies native frames.
type Classifier struct {
	invokeSuspend string
	resume        string
	descriptor    string
	marker        string
}

// New returns a classifier for the given runtime layout.
func New(layout mirror.Layout) *Classifier {
	return &Classifier{
		invokeSuspend: layout.InvokeSuspendMethod,
		resume:        layout.ResumeMethod,
		descriptor:    layout.ContinuationDescriptor,
		marker:        layout.AwaitingMarkerMethod,
	}
}

// Classify reports whether loc is a boundary frame. The line number is
// ignored: invokeSuspend frames frequently carry synthetic negative lines.
func (c *Classifier) Classify(loc remote.Location) Kind {
	if c.isInvokeSuspend(loc) || c.isResume(loc) {
		return Boundary
	}
	return Ordinary
}

// ExitMode reports how the continuation is extracted from a boundary frame.
// A boundary method that receives its continuation as a parameter is a
// suspend function and keeps it in a local slot; otherwise the frame's
// receiver is the continuation itself.
func (c *Classifier) ExitMode(loc remote.Location) ExitMode {
	switch {
	case c.Classify(loc) != Boundary:
		return ExitNone
	case c.takesContinuation(loc):
		return ExitSuspendMethod
	default:
		return ExitSuspendLambda
	}
}

// IsAwaitingMarker reports whether loc is the frame a coroutine shows while
// it is parked waiting for dispatch.
func (c *Classifier) IsAwaitingMarker(loc remote.Location) bool {
	return c.marker != "" && loc.Method == c.marker
}

func (c *Classifier) isInvokeSuspend(loc remote.Location) bool {
	return loc.Method == c.invokeSuspend
}

func (c *Classifier) isResume(loc remote.Location) bool {
	return c.resume != "" && loc.Method == c.resume
}

// takesContinuation reports whether the method's last parameter is a
// continuation, which is how suspend functions are compiled.
func (c *Classifier) takesContinuation(loc remote.Location) bool {
	if c.descriptor == "" || loc.Signature == "" {
		return false
	}
	return strings.Contains(loc.Signature, c.descriptor+")")
}

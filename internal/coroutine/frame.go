package coroutine

import (
	"context"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// FrameKind tags the variant of a Frame. Renderers switch on it.
type FrameKind uint8

const (
	// FrameRestored is recovered from a continuation object on the heap.
	FrameRestored FrameKind = iota + 1
	// FrameLive wraps a native thread frame as-is.
	FrameLive
	// FrameSpliced is a native boundary frame presented with the location
	// and variables of the innermost restored frame.
	FrameSpliced
	// FrameTransition is the first native frame below the splice point,
	// presented with the variables of the outermost restored frame.
	FrameTransition
	// FrameCreation comes from the trace recorded when the coroutine was
	// launched.
	FrameCreation
)

func (k FrameKind) String() string {
	switch k {
	case FrameRestored:
		return "restored"
	case FrameLive:
		return "live"
	case FrameSpliced:
		return "spliced"
	case FrameTransition:
		return "transition"
	case FrameCreation:
		return "creation"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k FrameKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Variable is a captured local of a suspended computation step. Its value
// stays in the debuggee until Load is called.
type Variable struct {
	Name  string     `json:"name"`
	Field string     `json:"field"`
	Owner remote.Ref `json:"owner"`
}

// Load fetches the variable's current value from the debuggee.
func (v Variable) Load(ctx context.Context, proc remote.Process) (remote.Value, error) {
	return proc.Field(ctx, v.Owner, v.Field)
}

// Frame is one entry of a logical stack. Exactly one variant applies, given
// by Kind; the meaning of the other fields depends on it:
//
//	Restored:   Location, Variables, Continuation; Anchor when displayed
//	            under a live boundary frame
//	Live:       Native (Location mirrors Native.Location)
//	Spliced:    Native, plus Location/Variables of the paired restored frame
//	Transition: Native (Location mirrors Native.Location), plus Paired and
//	            Variables of the paired restored frame
//	Creation:   Location, Trace, First
type Frame struct {
	Kind         FrameKind                 `json:"kind"`
	Location     remote.Location           `json:"location"`
	Variables    []Variable                `json:"variables,omitempty"`
	Continuation remote.Ref                `json:"continuation,omitempty"`
	Native       *remote.Frame             `json:"native,omitempty"`
	Anchor       *remote.Frame             `json:"anchor,omitempty"`
	Paired       *remote.Location          `json:"paired,omitempty"`
	Trace        *remote.StackTraceElement `json:"trace,omitempty"`
	First        bool                      `json:"first,omitempty"`
}

// NewRestored returns a frame recovered from a continuation.
func NewRestored(loc remote.Location, vars []Variable, continuation remote.Ref) Frame {
	return Frame{Kind: FrameRestored, Location: loc, Variables: vars, Continuation: continuation}
}

// NewLive wraps a native frame.
func NewLive(native remote.Frame) Frame {
	return Frame{Kind: FrameLive, Location: native.Location, Native: &native}
}

// NewSpliced pairs a boundary frame with the restored frame it resumes.
func NewSpliced(native remote.Frame, restored Frame) Frame {
	return Frame{
		Kind:         FrameSpliced,
		Location:     restored.Location,
		Variables:    restored.Variables,
		Continuation: restored.Continuation,
		Native:       &native,
	}
}

// NewTransition pairs the first native frame below a splice point with a
// restored frame.
func NewTransition(native remote.Frame, restored Frame) Frame {
	paired := restored.Location
	return Frame{
		Kind:         FrameTransition,
		Location:     native.Location,
		Paired:       &paired,
		Variables:    restored.Variables,
		Continuation: restored.Continuation,
		Native:       &native,
	}
}

// NewCreation returns a frame of a creation trace.
func NewCreation(elem remote.StackTraceElement, loc remote.Location, first bool) Frame {
	return Frame{Kind: FrameCreation, Location: loc, Trace: &elem, First: first}
}

// Anchored returns a copy of a restored frame displayed under native.
func (f Frame) Anchored(native remote.Frame) Frame {
	f.Anchor = &native
	return f
}

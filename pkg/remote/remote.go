// Package remote defines the introspection contract corostack consumes from
// a debugger backend.
//
// A Process is a handle on a paused managed-runtime process. It can list the
// native frames of a thread, read fields of remote objects, call designated
// accessor methods on them, render their printable representation and map
// class/method/line triples to navigable code locations. Every call may block
// while it round-trips to the debuggee and fails with ErrStale once the
// process has resumed: references obtained during one pause are never valid
// in the next.
//
// An Agent is the optional debug-instrumentation agent installed inside the
// debuggee. When present it answers coroutine queries with exact records.
package remote

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStale is returned by every call made after the process resumed.
	ErrStale = errors.New("remote reference is stale: process resumed")

	// ErrNotFound is returned when a field, local, accessor, class or agent
	// record does not exist.
	ErrNotFound = errors.New("not found")
)

// IsStale reports whether err was caused by the debuggee resuming.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// ObjectID identifies an object inside the paused process. Zero is null.
type ObjectID uint64

// Ref is a reference to a remote object.
type Ref struct {
	ID   ObjectID `json:"id"`
	Type string   `json:"type,omitempty"`
}

// IsNil reports whether the reference is the null reference.
func (r Ref) IsNil() bool {
	return r.ID == 0
}

func (r Ref) String() string {
	if r.IsNil() {
		return "null"
	}
	if r.Type == "" {
		return fmt.Sprintf("@%d", r.ID)
	}
	return fmt.Sprintf("%s@%d", r.Type, r.ID)
}

// Kind is the kind of a remote value.
type Kind uint8

const (
	KindNull Kind = iota
	KindObject
	KindInt
	KindBool
	KindString
)

// Value is a remote value read from a field, local slot or accessor.
type Value struct {
	Kind Kind
	Ref  Ref
	Int  int64
	Bool bool
	Str  string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Object wraps a reference. A nil reference yields the null value.
func Object(r Ref) Value {
	if r.IsNil() {
		return Value{}
	}
	return Value{Kind: KindObject, Ref: r}
}

// Int wraps an integer.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// String wraps a string.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) String() string {
	switch v.Kind {
	case KindObject:
		return v.Ref.String()
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	default:
		return "null"
	}
}

// ThreadID identifies a native thread of the paused process.
type ThreadID uint64

// Thread is a native thread of the paused process.
type Thread struct {
	ID   ThreadID `json:"id"`
	Name string   `json:"name,omitempty"`
}

// Location is a navigable code location.
type Location struct {
	Class     string `json:"class"`
	Method    string `json:"method"`
	Signature string `json:"signature,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line"`
}

func (l Location) String() string {
	file := l.File
	if file == "" {
		file = "Unknown Source"
	}
	if l.Line < 0 {
		return fmt.Sprintf("%s.%s(%s)", l.Class, l.Method, file)
	}
	return fmt.Sprintf("%s.%s(%s:%d)", l.Class, l.Method, file, l.Line)
}

// Frame is a native frame of a thread. Depth 0 is the innermost frame.
type Frame struct {
	Thread   ThreadID `json:"thread"`
	Depth    int      `json:"depth"`
	Location Location `json:"location"`
}

// StackTraceElement is one element of a trace recorded inside the debuggee.
type StackTraceElement struct {
	Class  string `json:"class" yaml:"class"`
	Method string `json:"method" yaml:"method"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Line   int    `json:"line" yaml:"line"`
}

// Location converts the element to a location without consulting the process.
func (e StackTraceElement) Location() Location {
	return Location{Class: e.Class, Method: e.Method, File: e.File, Line: e.Line}
}

// Process is the remote introspection capability of a paused process.
type Process interface {
	// Threads lists the native threads of the process.
	Threads(ctx context.Context) ([]Thread, error)
	// Frames lists the native frames of a thread, innermost first.
	Frames(ctx context.Context, thread ThreadID) ([]Frame, error)
	// This returns the receiver of a frame, or a nil Ref for static frames.
	This(ctx context.Context, frame Frame) (Ref, error)
	// Local reads a named local-variable slot of a frame.
	Local(ctx context.Context, frame Frame, name string) (Value, error)
	// Field reads a declared field of an object.
	Field(ctx context.Context, obj Ref, name string) (Value, error)
	// Call invokes a designated no-argument accessor method on an object.
	Call(ctx context.Context, obj Ref, method string) (Value, error)
	// Elements returns the elements of an array object.
	Elements(ctx context.Context, array Ref) ([]Value, error)
	// Describe returns the printable representation of an object.
	Describe(ctx context.Context, obj Ref) (string, error)
	// InstanceOf reports whether obj is an instance of typeName or a subtype.
	InstanceOf(ctx context.Context, obj Ref, typeName string) (bool, error)
	// Locate maps class + method + line to a navigable location.
	Locate(ctx context.Context, class, method string, line int) (Location, error)
}

// AgentRecord is the coroutine record kept by the debug agent.
type AgentRecord struct {
	Coroutine         Ref                 `json:"coroutine"`
	SequenceNumber    int64               `json:"sequence_number"`
	Name              string              `json:"name,omitempty"`
	State             string              `json:"state"`
	Dispatcher        string              `json:"dispatcher,omitempty"`
	Thread            *Thread             `json:"thread,omitempty"`
	LastObservedFrame Ref                 `json:"last_observed_frame"`
	CreationTrace     []StackTraceElement `json:"creation_trace,omitempty"`
}

// Agent is the debug-instrumentation agent of the debuggee.
type Agent interface {
	// CoroutineInfo returns the record of the coroutine owning ref, which may
	// be the coroutine itself or any continuation of its chain. It returns
	// ErrNotFound when the agent knows nothing about it.
	CoroutineInfo(ctx context.Context, ref Ref) (*AgentRecord, error)
	// Coroutines returns every record the agent holds.
	Coroutines(ctx context.Context) ([]AgentRecord, error)
}

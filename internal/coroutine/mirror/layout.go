// Package mirror reads coroutine runtime objects out of a paused process.
//
// The debuggee's coroutine runtime keeps its state in ordinary heap objects:
// continuations chained through a completion field, coroutine contexts built
// from combined-context cells, and stack trace elements describing where a
// continuation resumes. A Layout names the types, fields and accessors
// involved so that the walkers never hard-code them; it changes with the
// runtime version of the debuggee.
package mirror

import (
	"errors"
	"fmt"
)

// ErrMismatch is returned when an object does not have the expected shape.
var ErrMismatch = errors.New("object shape mismatch")

// Layout names the runtime types, fields and methods mirrored by this
// package.
type Layout struct {
	// Type names.
	AbstractCoroutineType string `yaml:"abstract_coroutine_type"`
	ContinuationType      string `yaml:"continuation_type"`
	CombinedContextType   string `yaml:"combined_context_type"`
	CoroutineIDType       string `yaml:"coroutine_id_type"`
	CoroutineNameType     string `yaml:"coroutine_name_type"`
	DispatcherType        string `yaml:"dispatcher_type"`

	// Field names.
	CompletionField      string `yaml:"completion_field"`
	ContextField         string `yaml:"context_field"`
	CombinedLeftField    string `yaml:"combined_left_field"`
	CombinedElementField string `yaml:"combined_element_field"`
	CoroutineIDField     string `yaml:"coroutine_id_field"`
	CoroutineNameField   string `yaml:"coroutine_name_field"`

	// Stack trace element fields.
	TraceClassField  string `yaml:"trace_class_field"`
	TraceMethodField string `yaml:"trace_method_field"`
	TraceFileField   string `yaml:"trace_file_field"`
	TraceLineField   string `yaml:"trace_line_field"`

	// Accessor methods on continuations.
	LocationAccessor       string `yaml:"location_accessor"`
	SpilledMappingAccessor string `yaml:"spilled_mapping_accessor"`

	// Boundary frame recognition.
	InvokeSuspendMethod    string `yaml:"invoke_suspend_method"`
	ResumeMethod           string `yaml:"resume_method"`
	ContinuationVariable   string `yaml:"continuation_variable"`
	ContinuationDescriptor string `yaml:"continuation_descriptor"`
	AwaitingMarkerMethod   string `yaml:"awaiting_marker_method"`

	// StatePattern matches the printable representation of a coroutine.
	// Group 1 is the state word, group 2 the hex address.
	StatePattern string `yaml:"state_pattern"`
}

// DefaultLayout returns the kotlinx.coroutines layout.
func DefaultLayout() Layout {
	return Layout{
		AbstractCoroutineType: "kotlinx.coroutines.AbstractCoroutine",
		ContinuationType:      "kotlin.coroutines.jvm.internal.BaseContinuationImpl",
		CombinedContextType:   "kotlin.coroutines.CombinedContext",
		CoroutineIDType:       "kotlinx.coroutines.CoroutineId",
		CoroutineNameType:     "kotlinx.coroutines.CoroutineName",
		DispatcherType:        "kotlinx.coroutines.CoroutineDispatcher",

		CompletionField:      "completion",
		ContextField:         "context",
		CombinedLeftField:    "left",
		CombinedElementField: "element",
		CoroutineIDField:     "id",
		CoroutineNameField:   "name",

		TraceClassField:  "declaringClass",
		TraceMethodField: "methodName",
		TraceFileField:   "fileName",
		TraceLineField:   "lineNumber",

		LocationAccessor:       "getStackTraceElement",
		SpilledMappingAccessor: "getSpilledVariableFieldMapping",

		InvokeSuspendMethod:    "invokeSuspend",
		ResumeMethod:           "resumeWith",
		ContinuationVariable:   "$continuation",
		ContinuationDescriptor: "Lkotlin/coroutines/Continuation;",
		AwaitingMarkerMethod:   "getCOROUTINE_SUSPENDED",

		StatePattern: `\w+\{(\w+)\}@([\w\d]+)`,
	}
}

func mismatch(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMismatch, fmt.Sprintf(format, args...))
}

package mirror

import (
	"context"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// Slot maps a field of a continuation to the source-level name of the local
// variable spilled into it.
type Slot struct {
	Field string
	Name  string
}

// IsContinuation reports whether ref is a continuation object.
func (l Layout) IsContinuation(ctx context.Context, proc remote.Process, ref remote.Ref) (bool, error) {
	if ref.IsNil() {
		return false, nil
	}
	return proc.InstanceOf(ctx, ref, l.ContinuationType)
}

// ResumeElement returns where the continuation resumes.
func (l Layout) ResumeElement(ctx context.Context, proc remote.Process, ref remote.Ref) (remote.StackTraceElement, error) {
	v, err := proc.Call(ctx, ref, l.LocationAccessor)
	if err != nil {
		return remote.StackTraceElement{}, err
	}
	if v.Kind != remote.KindObject {
		return remote.StackTraceElement{}, mismatch("%s of %s returned %s", l.LocationAccessor, ref, v)
	}
	return l.ReadStackTraceElement(ctx, proc, v.Ref)
}

// ReadStackTraceElement mirrors a stack trace element object.
func (l Layout) ReadStackTraceElement(ctx context.Context, proc remote.Process, ref remote.Ref) (remote.StackTraceElement, error) {
	var elem remote.StackTraceElement

	class, err := proc.Field(ctx, ref, l.TraceClassField)
	if err != nil {
		return elem, err
	}
	method, err := proc.Field(ctx, ref, l.TraceMethodField)
	if err != nil {
		return elem, err
	}
	if class.Kind != remote.KindString || method.Kind != remote.KindString {
		return elem, mismatch("trace element %s has no class or method", ref)
	}
	elem.Class = class.Str
	elem.Method = method.Str

	// File and line are optional: synthetic frames carry neither.
	if file, err := proc.Field(ctx, ref, l.TraceFileField); err == nil && file.Kind == remote.KindString {
		elem.File = file.Str
	} else if remote.IsStale(err) {
		return elem, err
	}
	if line, err := proc.Field(ctx, ref, l.TraceLineField); err == nil && line.Kind == remote.KindInt {
		elem.Line = int(line.Int)
	} else if remote.IsStale(err) {
		return elem, err
	}

	return elem, nil
}

// SpilledSlots returns the spilled-variable mapping of a continuation. The
// accessor returns a flat array of alternating field and variable names.
func (l Layout) SpilledSlots(ctx context.Context, proc remote.Process, ref remote.Ref) ([]Slot, error) {
	v, err := proc.Call(ctx, ref, l.SpilledMappingAccessor)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	if v.Kind != remote.KindObject {
		return nil, mismatch("%s of %s returned %s", l.SpilledMappingAccessor, ref, v)
	}

	elems, err := proc.Elements(ctx, v.Ref)
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(elems)/2)
	for i := 0; i+1 < len(elems); i += 2 {
		field, name := elems[i], elems[i+1]
		if field.Kind != remote.KindString || name.Kind != remote.KindString {
			continue
		}
		slots = append(slots, Slot{Field: field.Str, Name: name.Str})
	}
	return slots, nil
}

// Completion returns the next continuation of the chain. A nil Ref means
// the chain ends here; a non-reference value is reported as a mismatch.
func (l Layout) Completion(ctx context.Context, proc remote.Process, ref remote.Ref) (remote.Ref, error) {
	v, err := proc.Field(ctx, ref, l.CompletionField)
	if err != nil {
		return remote.Ref{}, err
	}
	switch v.Kind {
	case remote.KindNull:
		return remote.Ref{}, nil
	case remote.KindObject:
		return v.Ref, nil
	default:
		return remote.Ref{}, mismatch("%s.%s is %s", ref, l.CompletionField, v)
	}
}

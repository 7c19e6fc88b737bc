// Package snapshot implements remote.Process and remote.Agent over a heap
// snapshot of a paused process.
//
// A snapshot is a YAML document listing the native threads of the process
// with their frames, the heap objects reachable from them (fields, accessor
// results, array elements, printable representation, type hierarchy) and,
// optionally, the records of the debug agent. Values are written as plain
// scalars (integers, booleans, strings, null) or as {ref: <object id>}.
//
// The snapshot process can simulate the debuggee resuming: after Resume, or
// after the call budget given to ResumeAfter is spent, every call fails with
// remote.ErrStale.
package snapshot

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// File is the decoded snapshot document.
type File struct {
	Threads         []ThreadSpec      `yaml:"threads" json:"threads"`
	Objects         []ObjectSpec      `yaml:"objects" json:"objects"`
	Sources         map[string]string `yaml:"sources,omitempty" json:"sources,omitempty" jsonschema:"description=Source file name per class"`
	UnloadedClasses []string          `yaml:"unloaded_classes,omitempty" json:"unloaded_classes,omitempty" jsonschema:"description=Classes that cannot be located"`
	Agent           *AgentSpec        `yaml:"agent,omitempty" json:"agent,omitempty"`
}

// ThreadSpec is a native thread with its frames, innermost first.
type ThreadSpec struct {
	ID     uint64      `yaml:"id" json:"id"`
	Name   string      `yaml:"name" json:"name"`
	Frames []FrameSpec `yaml:"frames" json:"frames"`
}

// FrameSpec is a native frame.
type FrameSpec struct {
	Class     string               `yaml:"class" json:"class"`
	Method    string               `yaml:"method" json:"method"`
	Signature string               `yaml:"signature,omitempty" json:"signature,omitempty"`
	File      string               `yaml:"file,omitempty" json:"file,omitempty"`
	Line      int                  `yaml:"line" json:"line"`
	This      uint64               `yaml:"this,omitempty" json:"this,omitempty" jsonschema:"description=Receiver object id; 0 for static frames"`
	Locals    map[string]ValueSpec `yaml:"locals,omitempty" json:"locals,omitempty"`
}

// ObjectSpec is a heap object.
type ObjectSpec struct {
	ID         uint64               `yaml:"id" json:"id"`
	Type       string               `yaml:"type" json:"type"`
	Supertypes []string             `yaml:"supertypes,omitempty" json:"supertypes,omitempty"`
	Repr       string               `yaml:"repr,omitempty" json:"repr,omitempty" jsonschema:"description=Printable representation"`
	Fields     map[string]ValueSpec `yaml:"fields,omitempty" json:"fields,omitempty"`
	Calls      map[string]ValueSpec `yaml:"calls,omitempty" json:"calls,omitempty" jsonschema:"description=Results of no-argument accessor methods"`
	Elements   []ValueSpec          `yaml:"elements,omitempty" json:"elements,omitempty" jsonschema:"description=Array elements"`
}

// AgentSpec holds the debug agent records. Its presence means the agent is
// installed.
type AgentSpec struct {
	Coroutines []RecordSpec `yaml:"coroutines" json:"coroutines"`
}

// RecordSpec is one coroutine record of the debug agent.
type RecordSpec struct {
	Coroutine         uint64                     `yaml:"coroutine" json:"coroutine"`
	SequenceNumber    int64                      `yaml:"sequence_number" json:"sequence_number"`
	Name              string                     `yaml:"name,omitempty" json:"name,omitempty"`
	State             string                     `yaml:"state" json:"state"`
	Dispatcher        string                     `yaml:"dispatcher,omitempty" json:"dispatcher,omitempty"`
	Thread            uint64                     `yaml:"thread,omitempty" json:"thread,omitempty"`
	LastObservedFrame uint64                     `yaml:"last_observed_frame,omitempty" json:"last_observed_frame,omitempty"`
	CreationTrace     []remote.StackTraceElement `yaml:"creation_trace,omitempty" json:"creation_trace,omitempty"`
}

// ValueSpec is a remote value as written in a snapshot.
type ValueSpec struct {
	remote.Value
	ref uint64
}

// UnmarshalYAML decodes a scalar or a {ref: id} mapping.
func (v *ValueSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!null":
			v.Value = remote.Null()
		case "!!int":
			var i int64
			if err := node.Decode(&i); err != nil {
				return err
			}
			v.Value = remote.Int(i)
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			v.Value = remote.Bool(b)
		default:
			v.Value = remote.String(node.Value)
		}
		return nil

	case yaml.MappingNode:
		var m struct {
			Ref uint64 `yaml:"ref"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		v.ref = m.Ref
		v.Value = remote.Null()
		return nil

	default:
		return fmt.Errorf("line %d: value must be a scalar or {ref: id}", node.Line)
	}
}

// JSONSchema describes ValueSpec for `corostack schema`.
func (ValueSpec) JSONSchema() *jsonschema.Schema {
	ref := jsonschema.NewProperties()
	ref.Set("ref", &jsonschema.Schema{Type: "integer", Description: "Object id"})
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "null"},
			{Type: "integer"},
			{Type: "boolean"},
			{Type: "string"},
			{Type: "object", Properties: ref, Required: []string{"ref"}},
		},
	}
}

// Schema returns the JSON Schema of the snapshot format.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	return reflector.Reflect(&File{})
}

// RefTo returns a value referring to object id.
func RefTo(id uint64) ValueSpec {
	return ValueSpec{ref: id}
}

// Scalar returns a value holding a non-reference remote value.
func Scalar(v remote.Value) ValueSpec {
	return ValueSpec{Value: v}
}

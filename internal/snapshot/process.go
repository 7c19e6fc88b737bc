package snapshot

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/corostack/internal/constants"
	"github.com/coral-mesh/corostack/internal/safe"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// Process is a paused process backed by a snapshot.
type Process struct {
	file     *File
	objects  map[remote.ObjectID]*ObjectSpec
	threads  map[remote.ThreadID]*ThreadSpec
	unloaded map[string]struct{}

	mu      sync.Mutex
	calls   int
	budget  int // remaining calls before resuming; negative means unlimited
	resumed bool
}

var _ remote.Process = (*Process)(nil)

// Load reads a snapshot file.
func Load(path string) (*Process, error) {
	data, err := safe.ReadFile(path, &safe.ReadOptions{
		MaxSize:       constants.MaxSnapshotSize,
		AllowSymlinks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Parse(data)
}

// Parse decodes a snapshot document.
func Parse(data []byte) (*Process, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return New(&f)
}

// New indexes a decoded snapshot.
func New(f *File) (*Process, error) {
	p := &Process{
		file:     f,
		objects:  make(map[remote.ObjectID]*ObjectSpec, len(f.Objects)),
		threads:  make(map[remote.ThreadID]*ThreadSpec, len(f.Threads)),
		unloaded: make(map[string]struct{}, len(f.UnloadedClasses)),
		budget:   -1,
	}

	for i := range f.Objects {
		obj := &f.Objects[i]
		if obj.ID == 0 {
			return nil, fmt.Errorf("object %d (%s): id 0 is reserved for null", i, obj.Type)
		}
		id := remote.ObjectID(obj.ID)
		if _, dup := p.objects[id]; dup {
			return nil, fmt.Errorf("duplicate object id %d", obj.ID)
		}
		p.objects[id] = obj
	}

	for i := range f.Threads {
		th := &f.Threads[i]
		id := remote.ThreadID(th.ID)
		if _, dup := p.threads[id]; dup {
			return nil, fmt.Errorf("duplicate thread id %d", th.ID)
		}
		p.threads[id] = th
	}

	for _, class := range f.UnloadedClasses {
		p.unloaded[class] = struct{}{}
	}

	if err := p.checkRefs(); err != nil {
		return nil, err
	}

	return p, nil
}

// checkRefs verifies that every {ref: id} points at a declared object.
func (p *Process) checkRefs() error {
	check := func(where string, v ValueSpec) error {
		if v.ref == 0 {
			return nil
		}
		if _, ok := p.objects[remote.ObjectID(v.ref)]; !ok {
			return fmt.Errorf("%s refers to unknown object %d", where, v.ref)
		}
		return nil
	}

	for _, obj := range p.file.Objects {
		for name, v := range obj.Fields {
			if err := check(fmt.Sprintf("object %d field %s", obj.ID, name), v); err != nil {
				return err
			}
		}
		for name, v := range obj.Calls {
			if err := check(fmt.Sprintf("object %d call %s", obj.ID, name), v); err != nil {
				return err
			}
		}
		for i, v := range obj.Elements {
			if err := check(fmt.Sprintf("object %d element %d", obj.ID, i), v); err != nil {
				return err
			}
		}
	}
	for _, th := range p.file.Threads {
		for depth, f := range th.Frames {
			for name, v := range f.Locals {
				if err := check(fmt.Sprintf("thread %d frame %d local %s", th.ID, depth, name), v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Resume simulates the debuggee resuming: every later call fails with
// remote.ErrStale.
func (p *Process) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumed = true
}

// ResumeAfter lets n more calls succeed, then resumes.
func (p *Process) ResumeAfter(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budget = n
}

// Calls returns the number of remote calls served so far.
func (p *Process) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// enter accounts for one remote call.
func (p *Process) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.budget == 0 {
		p.resumed = true
	}
	if p.resumed {
		return remote.ErrStale
	}
	if p.budget > 0 {
		p.budget--
	}
	p.calls++
	return nil
}

func (p *Process) ref(id uint64) remote.Ref {
	if id == 0 {
		return remote.Ref{}
	}
	r := remote.Ref{ID: remote.ObjectID(id)}
	if obj, ok := p.objects[r.ID]; ok {
		r.Type = obj.Type
	}
	return r
}

func (p *Process) value(v ValueSpec) remote.Value {
	if v.ref != 0 {
		return remote.Object(p.ref(v.ref))
	}
	return v.Value
}

func (p *Process) object(ref remote.Ref) (*ObjectSpec, error) {
	if ref.IsNil() {
		return nil, fmt.Errorf("null reference: %w", remote.ErrNotFound)
	}
	obj, ok := p.objects[ref.ID]
	if !ok {
		return nil, fmt.Errorf("object %d: %w", ref.ID, remote.ErrNotFound)
	}
	return obj, nil
}

func (p *Process) frameSpec(f remote.Frame) (*FrameSpec, error) {
	th, ok := p.threads[f.Thread]
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", f.Thread, remote.ErrNotFound)
	}
	if f.Depth < 0 || f.Depth >= len(th.Frames) {
		return nil, fmt.Errorf("thread %d frame %d: %w", f.Thread, f.Depth, remote.ErrNotFound)
	}
	return &th.Frames[f.Depth], nil
}

func (p *Process) sourceOf(class, declared string) string {
	if declared != "" {
		return declared
	}
	return p.file.Sources[class]
}

// Threads implements remote.Process.
func (p *Process) Threads(ctx context.Context) ([]remote.Thread, error) {
	if err := p.enter(ctx); err != nil {
		return nil, err
	}
	out := make([]remote.Thread, 0, len(p.file.Threads))
	for _, th := range p.file.Threads {
		out = append(out, remote.Thread{ID: remote.ThreadID(th.ID), Name: th.Name})
	}
	return out, nil
}

// Thread returns a thread by id without accounting for a remote call.
func (p *Process) Thread(id remote.ThreadID) (remote.Thread, bool) {
	th, ok := p.threads[id]
	if !ok {
		return remote.Thread{}, false
	}
	return remote.Thread{ID: id, Name: th.Name}, true
}

// Frames implements remote.Process.
func (p *Process) Frames(ctx context.Context, thread remote.ThreadID) ([]remote.Frame, error) {
	if err := p.enter(ctx); err != nil {
		return nil, err
	}
	th, ok := p.threads[thread]
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", thread, remote.ErrNotFound)
	}
	out := make([]remote.Frame, 0, len(th.Frames))
	for depth, f := range th.Frames {
		out = append(out, remote.Frame{
			Thread: thread,
			Depth:  depth,
			Location: remote.Location{
				Class:     f.Class,
				Method:    f.Method,
				Signature: f.Signature,
				File:      p.sourceOf(f.Class, f.File),
				Line:      f.Line,
			},
		})
	}
	return out, nil
}

// This implements remote.Process.
func (p *Process) This(ctx context.Context, frame remote.Frame) (remote.Ref, error) {
	if err := p.enter(ctx); err != nil {
		return remote.Ref{}, err
	}
	f, err := p.frameSpec(frame)
	if err != nil {
		return remote.Ref{}, err
	}
	return p.ref(f.This), nil
}

// Local implements remote.Process.
func (p *Process) Local(ctx context.Context, frame remote.Frame, name string) (remote.Value, error) {
	if err := p.enter(ctx); err != nil {
		return remote.Value{}, err
	}
	f, err := p.frameSpec(frame)
	if err != nil {
		return remote.Value{}, err
	}
	v, ok := f.Locals[name]
	if !ok {
		return remote.Value{}, fmt.Errorf("local %s: %w", name, remote.ErrNotFound)
	}
	return p.value(v), nil
}

// Field implements remote.Process.
func (p *Process) Field(ctx context.Context, obj remote.Ref, name string) (remote.Value, error) {
	if err := p.enter(ctx); err != nil {
		return remote.Value{}, err
	}
	o, err := p.object(obj)
	if err != nil {
		return remote.Value{}, err
	}
	v, ok := o.Fields[name]
	if !ok {
		return remote.Value{}, fmt.Errorf("%s.%s: %w", o.Type, name, remote.ErrNotFound)
	}
	return p.value(v), nil
}

// Call implements remote.Process.
func (p *Process) Call(ctx context.Context, obj remote.Ref, method string) (remote.Value, error) {
	if err := p.enter(ctx); err != nil {
		return remote.Value{}, err
	}
	o, err := p.object(obj)
	if err != nil {
		return remote.Value{}, err
	}
	v, ok := o.Calls[method]
	if !ok {
		return remote.Value{}, fmt.Errorf("%s.%s(): %w", o.Type, method, remote.ErrNotFound)
	}
	return p.value(v), nil
}

// Elements implements remote.Process.
func (p *Process) Elements(ctx context.Context, array remote.Ref) ([]remote.Value, error) {
	if err := p.enter(ctx); err != nil {
		return nil, err
	}
	o, err := p.object(array)
	if err != nil {
		return nil, err
	}
	out := make([]remote.Value, 0, len(o.Elements))
	for _, v := range o.Elements {
		out = append(out, p.value(v))
	}
	return out, nil
}

// Describe implements remote.Process.
func (p *Process) Describe(ctx context.Context, obj remote.Ref) (string, error) {
	if err := p.enter(ctx); err != nil {
		return "", err
	}
	o, err := p.object(obj)
	if err != nil {
		return "", err
	}
	if o.Repr != "" {
		return o.Repr, nil
	}
	return fmt.Sprintf("%s@%x", o.Type, o.ID), nil
}

// InstanceOf implements remote.Process.
func (p *Process) InstanceOf(ctx context.Context, obj remote.Ref, typeName string) (bool, error) {
	if err := p.enter(ctx); err != nil {
		return false, err
	}
	o, err := p.object(obj)
	if err != nil {
		return false, err
	}
	if o.Type == typeName {
		return true, nil
	}
	for _, t := range o.Supertypes {
		if t == typeName {
			return true, nil
		}
	}
	return false, nil
}

// Locate implements remote.Process.
func (p *Process) Locate(ctx context.Context, class, method string, line int) (remote.Location, error) {
	if err := p.enter(ctx); err != nil {
		return remote.Location{}, err
	}
	if _, missing := p.unloaded[class]; missing {
		return remote.Location{}, fmt.Errorf("class %s: %w", class, remote.ErrNotFound)
	}
	return remote.Location{
		Class:  class,
		Method: method,
		File:   p.file.Sources[class],
		Line:   line,
	}, nil
}

package mirror

import (
	"context"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// maxContextElements bounds combined-context traversal.
const maxContextElements = 64

// Context is the subset of a coroutine context the debugger presents.
type Context struct {
	ID         int64
	HasID      bool
	Name       string
	Dispatcher string
}

// IsAbstractCoroutine reports whether ref is a coroutine object.
func (l Layout) IsAbstractCoroutine(ctx context.Context, proc remote.Process, ref remote.Ref) (bool, error) {
	if ref.IsNil() {
		return false, nil
	}
	return proc.InstanceOf(ctx, ref, l.AbstractCoroutineType)
}

// ReadContext mirrors the context of a coroutine object. The context is
// either a single element or a tree of combined-context cells; every element
// is visited once. Elements that cannot be read are skipped; only a stale
// process aborts.
func (l Layout) ReadContext(ctx context.Context, proc remote.Process, coroutine remote.Ref) (Context, error) {
	var out Context

	root, err := proc.Field(ctx, coroutine, l.ContextField)
	if err != nil {
		return out, err
	}
	if root.Kind != remote.KindObject {
		return out, mismatch("%s.%s is %s", coroutine, l.ContextField, root)
	}

	pending := []remote.Ref{root.Ref}
	visited := make(map[remote.ObjectID]struct{})
	for len(pending) > 0 && len(visited) < maxContextElements {
		ref := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := visited[ref.ID]; seen {
			continue
		}
		visited[ref.ID] = struct{}{}

		combined, err := proc.InstanceOf(ctx, ref, l.CombinedContextType)
		if err != nil {
			if remote.IsStale(err) {
				return out, err
			}
			continue
		}
		if combined {
			for _, name := range []string{l.CombinedElementField, l.CombinedLeftField} {
				v, err := proc.Field(ctx, ref, name)
				if remote.IsStale(err) {
					return out, err
				}
				if err == nil && v.Kind == remote.KindObject {
					pending = append(pending, v.Ref)
				}
			}
			continue
		}

		if err := l.readElement(ctx, proc, ref, &out); remote.IsStale(err) {
			return out, err
		}
	}

	return out, nil
}

func (l Layout) readElement(ctx context.Context, proc remote.Process, ref remote.Ref, out *Context) error {
	if ok, err := proc.InstanceOf(ctx, ref, l.CoroutineIDType); err != nil {
		return err
	} else if ok {
		v, err := proc.Field(ctx, ref, l.CoroutineIDField)
		if err != nil {
			return err
		}
		if v.Kind == remote.KindInt {
			out.ID, out.HasID = v.Int, true
		}
		return nil
	}

	if ok, err := proc.InstanceOf(ctx, ref, l.CoroutineNameType); err != nil {
		return err
	} else if ok {
		v, err := proc.Field(ctx, ref, l.CoroutineNameField)
		if err != nil {
			return err
		}
		if v.Kind == remote.KindString {
			out.Name = v.Str
		}
		return nil
	}

	if ok, err := proc.InstanceOf(ctx, ref, l.DispatcherType); err != nil {
		return err
	} else if ok {
		desc, err := proc.Describe(ctx, ref)
		if err != nil {
			return err
		}
		out.Dispatcher = desc
	}
	return nil
}

package snapshot

import (
	"context"
	"fmt"

	"github.com/coral-mesh/corostack/pkg/remote"
)

// ownerSearchLimit bounds the completion-chain search for a record owner.
const ownerSearchLimit = 256

// agent answers coroutine queries from the snapshot's agent records, the way
// the instrumentation agent of the debuggee does: a query for a continuation
// is answered by following its completion chain to the owning coroutine.
type agent struct {
	p               *Process
	completionField string
	records         map[remote.ObjectID]int
}

// Agent returns the debug agent of the snapshot, or nil when the snapshot
// has no agent section. completionField names the continuation field the
// agent follows to find a coroutine owner.
func (p *Process) Agent(completionField string) remote.Agent {
	if p.file.Agent == nil {
		return nil
	}
	a := &agent{
		p:               p,
		completionField: completionField,
		records:         make(map[remote.ObjectID]int, len(p.file.Agent.Coroutines)),
	}
	for i, rec := range p.file.Agent.Coroutines {
		a.records[remote.ObjectID(rec.Coroutine)] = i
	}
	return a
}

func (a *agent) record(i int) remote.AgentRecord {
	spec := a.p.file.Agent.Coroutines[i]
	rec := remote.AgentRecord{
		Coroutine:         a.p.ref(spec.Coroutine),
		SequenceNumber:    spec.SequenceNumber,
		Name:              spec.Name,
		State:             spec.State,
		Dispatcher:        spec.Dispatcher,
		LastObservedFrame: a.p.ref(spec.LastObservedFrame),
		CreationTrace:     append([]remote.StackTraceElement(nil), spec.CreationTrace...),
	}
	if spec.Thread != 0 {
		if th, ok := a.p.Thread(remote.ThreadID(spec.Thread)); ok {
			rec.Thread = &th
		}
	}
	return rec
}

func (a *agent) CoroutineInfo(ctx context.Context, ref remote.Ref) (*remote.AgentRecord, error) {
	if err := a.p.enter(ctx); err != nil {
		return nil, err
	}

	cur := ref
	for i := 0; i < ownerSearchLimit && !cur.IsNil(); i++ {
		if idx, ok := a.records[cur.ID]; ok {
			rec := a.record(idx)
			return &rec, nil
		}
		obj, ok := a.p.objects[cur.ID]
		if !ok {
			break
		}
		next, ok := obj.Fields[a.completionField]
		if !ok || next.ref == 0 {
			break
		}
		cur = a.p.ref(next.ref)
	}
	return nil, fmt.Errorf("coroutine record for %s: %w", ref, remote.ErrNotFound)
}

func (a *agent) Coroutines(ctx context.Context) ([]remote.AgentRecord, error) {
	if err := a.p.enter(ctx); err != nil {
		return nil, err
	}
	out := make([]remote.AgentRecord, 0, len(a.p.file.Agent.Coroutines))
	for i := range a.p.file.Agent.Coroutines {
		out = append(out, a.record(i))
	}
	return out, nil
}

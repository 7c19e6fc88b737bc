// Package state resolves the identity and lifecycle state of a coroutine.
//
// Two evidence sources exist. The debug agent, when installed in the
// debuggee, keeps exact records. Without it the resolver mirrors the
// coroutine object: its context carries id, name and dispatcher, and its
// printable representation carries the state word. Both sit behind
// Resolver; callers use a Chain and never learn which one answered.
package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// ErrNotCoroutine is returned when a reference cannot be classified at all.
var ErrNotCoroutine = errors.New("not a coroutine")

// maxOwnerSearch bounds the completion-chain search for the coroutine
// object owning a continuation.
const maxOwnerSearch = 256

// Resolver classifies a coroutine reference. The reference may be the
// coroutine object or any continuation of its chain.
//
// Implementations degrade to StateUnknown when evidence is missing. They
// return ErrNotCoroutine when ref is not coroutine-shaped, and an error
// satisfying remote.IsStale when the process resumed.
type Resolver interface {
	Resolve(ctx context.Context, ref remote.Ref) (coroutine.Identity, error)
}

// FromRecord converts a debug agent record into an identity.
func FromRecord(rec *remote.AgentRecord, defaultName string) coroutine.Identity {
	name := rec.Name
	if name == "" {
		name = defaultName
	}
	return coroutine.Identity{
		Name:       name,
		ID:         strconv.FormatInt(rec.SequenceNumber, 10),
		State:      coroutine.ParseState(rec.State),
		Dispatcher: rec.Dispatcher,
	}
}

// AgentResolver answers from the debug agent.
type AgentResolver struct {
	agent       remote.Agent
	defaultName string
}

// NewAgentResolver returns a resolver backed by agent.
func NewAgentResolver(agent remote.Agent, defaultName string) *AgentResolver {
	return &AgentResolver{agent: agent, defaultName: defaultName}
}

// Resolve implements Resolver.
func (r *AgentResolver) Resolve(ctx context.Context, ref remote.Ref) (coroutine.Identity, error) {
	rec, err := r.agent.CoroutineInfo(ctx, ref)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return coroutine.UnknownIdentity(), fmt.Errorf("%s: %w", ref, ErrNotCoroutine)
		}
		return coroutine.UnknownIdentity(), err
	}
	return FromRecord(rec, r.defaultName), nil
}

// MirrorResolver reads the coroutine object out of the heap.
type MirrorResolver struct {
	proc        remote.Process
	layout      mirror.Layout
	pattern     *Pattern
	defaultName string
	logger      zerolog.Logger
}

// NewMirrorResolver returns a resolver that mirrors heap objects. The layout
// state pattern must compile.
func NewMirrorResolver(proc remote.Process, layout mirror.Layout, defaultName string, logger zerolog.Logger) (*MirrorResolver, error) {
	pattern, err := CompilePattern(layout.StatePattern)
	if err != nil {
		return nil, err
	}
	return &MirrorResolver{
		proc:        proc,
		layout:      layout,
		pattern:     pattern,
		defaultName: defaultName,
		logger:      logger,
	}, nil
}

// Resolve implements Resolver.
func (r *MirrorResolver) Resolve(ctx context.Context, ref remote.Ref) (coroutine.Identity, error) {
	id := coroutine.UnknownIdentity()
	id.Name = r.defaultName

	owner, err := r.owner(ctx, ref)
	if err != nil {
		return id, err
	}

	mc, err := r.layout.ReadContext(ctx, r.proc, owner)
	if err != nil {
		if remote.IsStale(err) {
			return id, err
		}
		r.logger.Debug().Err(err).Stringer("coroutine", owner).Msg("Coroutine context unavailable")
	}
	if mc.Name != "" {
		id.Name = mc.Name
	}
	id.Dispatcher = mc.Dispatcher

	repr, err := r.proc.Describe(ctx, owner)
	if err != nil {
		if remote.IsStale(err) {
			return id, err
		}
		r.logger.Debug().Err(err).Stringer("coroutine", owner).Msg("Coroutine representation unavailable")
	}

	state, address, ok := r.pattern.Parse(repr)
	if !ok && err == nil {
		r.logger.Debug().Str("repr", repr).Msg("Unrecognised coroutine representation")
	}
	id.State = state

	switch {
	case mc.HasID:
		id.ID = strconv.FormatInt(mc.ID, 10)
	case address != "":
		id.ID = address
	}

	return id, nil
}

// owner finds the coroutine object for ref by following completion links.
func (r *MirrorResolver) owner(ctx context.Context, ref remote.Ref) (remote.Ref, error) {
	visited := make(map[remote.ObjectID]struct{})
	cur := ref
	for i := 0; i < maxOwnerSearch && !cur.IsNil(); i++ {
		if _, seen := visited[cur.ID]; seen {
			break
		}
		visited[cur.ID] = struct{}{}

		isCoroutine, err := r.layout.IsAbstractCoroutine(ctx, r.proc, cur)
		if err != nil {
			if remote.IsStale(err) {
				return remote.Ref{}, err
			}
			break
		}
		if isCoroutine {
			return cur, nil
		}

		isContinuation, err := r.layout.IsContinuation(ctx, r.proc, cur)
		if err != nil {
			if remote.IsStale(err) {
				return remote.Ref{}, err
			}
			break
		}
		if !isContinuation {
			break
		}

		next, err := r.layout.Completion(ctx, r.proc, cur)
		if err != nil {
			if remote.IsStale(err) {
				return remote.Ref{}, err
			}
			break
		}
		cur = next
	}
	return remote.Ref{}, fmt.Errorf("%s: %w", ref, ErrNotCoroutine)
}

// Chain tries resolvers in order. The first answer wins; a stale process
// stops the search.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, ref remote.Ref) (coroutine.Identity, error) {
	lastErr := fmt.Errorf("%s: %w", ref, ErrNotCoroutine)
	for _, r := range c {
		if r == nil {
			continue
		}
		id, err := r.Resolve(ctx, ref)
		if err == nil {
			return id, nil
		}
		if remote.IsStale(err) || ctx.Err() != nil {
			return coroutine.UnknownIdentity(), err
		}
		lastErr = err
	}
	return coroutine.UnknownIdentity(), lastErr
}

// Package stack assembles the logical call stack of a coroutine.
//
// A suspended coroutine's stack is exactly its restored frames. A running
// coroutine's stack is its live thread cut at the first boundary frame: the
// frames above the boundary are kept, the boundary is presented as the
// innermost restored frame, the rest of the continuation chain follows, and
// the first native frame below the boundary becomes the transition back to
// the thread. The creation trace closes every assembled running stack.
package stack

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/internal/coroutine/continuation"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
	"github.com/coral-mesh/corostack/internal/coroutine/state"
	"github.com/coral-mesh/corostack/pkg/remote"
)

var (
	// ErrAwaitingDispatch is returned by Preflight when the thread shows the
	// coroutine parked waiting for dispatch.
	ErrAwaitingDispatch = errors.New("coroutine awaiting dispatch")

	// ErrNoAgent is returned by Dump when no debug agent is installed.
	ErrNoAgent = errors.New("debug agent not installed")
)

// Builder assembles logical stacks for one pause.
type Builder struct {
	proc        remote.Process
	agent       remote.Agent
	layout      mirror.Layout
	classifier  *classify.Classifier
	resolver    state.Resolver
	walker      *continuation.Walker
	locator     continuation.Locator
	defaultName string
	logger      zerolog.Logger
}

// Options carries the collaborators of a Builder. Agent may be nil; a nil
// Locator locates through Process.
type Options struct {
	Process     remote.Process
	Agent       remote.Agent
	Layout      mirror.Layout
	Resolver    state.Resolver
	Walker      *continuation.Walker
	Locator     continuation.Locator
	DefaultName string
	Logger      zerolog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	locator := opts.Locator
	if locator == nil {
		locator = opts.Process
	}
	name := opts.DefaultName
	if name == "" {
		name = coroutine.DefaultName
	}
	return &Builder{
		proc:        opts.Process,
		agent:       opts.Agent,
		layout:      opts.Layout,
		classifier:  classify.New(opts.Layout),
		resolver:    opts.Resolver,
		walker:      opts.Walker,
		locator:     locator,
		defaultName: name,
		logger:      opts.Logger.With().Str("component", "stack_builder").Logger(),
	}
}

// Classifier returns the frame classifier in use.
func (b *Builder) Classifier() *classify.Classifier {
	return b.classifier
}

// Lookup builds the info of the coroutine owning the continuation ref. A
// continuation nobody can identify still gets its restored frames, under the
// unknown identity. thread is kept only if the coroutine is running.
//
// The returned error is non-nil only when the process resumed; the info
// then holds what was recovered before.
func (b *Builder) Lookup(ctx context.Context, ref remote.Ref, thread *remote.Thread) (*coroutine.Info, error) {
	id, err := b.resolver.Resolve(ctx, ref)
	if err != nil {
		if remote.IsStale(err) {
			return coroutine.NewInfo(coroutine.UnknownIdentity(), nil, nil, nil), err
		}
		b.logger.Warn().Err(err).Stringer("continuation", ref).Msg("Coroutine not identified, using defaults")
		id = coroutine.UnknownIdentity()
		id.Name = b.defaultName
	}

	chain := b.walker.Walk(ctx, ref)
	if chain.Stop == continuation.StopStale {
		return coroutine.NewInfo(id, chain.Frames, nil, thread), chain.Err
	}

	var creation []coroutine.Frame
	if b.agent != nil {
		rec, err := b.agent.CoroutineInfo(ctx, ref)
		switch {
		case err == nil:
			creation, err = b.Creation(ctx, rec.CreationTrace)
			if err != nil {
				return coroutine.NewInfo(id, chain.Frames, creation, thread), err
			}
		case remote.IsStale(err):
			return coroutine.NewInfo(id, chain.Frames, nil, thread), err
		default:
			b.logger.Debug().Err(err).Stringer("continuation", ref).Msg("No creation trace")
		}
	}

	return coroutine.NewInfo(id, chain.Frames, creation, thread), nil
}

// Creation converts a recorded creation trace into creation frames. An
// element whose class cannot be located keeps its raw location.
func (b *Builder) Creation(ctx context.Context, trace []remote.StackTraceElement) ([]coroutine.Frame, error) {
	frames := make([]coroutine.Frame, 0, len(trace))
	for i, elem := range trace {
		loc, err := b.locator.Locate(ctx, elem.Class, elem.Method, elem.Line)
		if err != nil {
			if remote.IsStale(err) {
				return frames, err
			}
			loc = elem.Location()
		}
		frames = append(frames, coroutine.NewCreation(elem, loc, i == 0))
	}
	return frames, nil
}

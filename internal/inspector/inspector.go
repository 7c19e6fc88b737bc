// Package inspector is the entry point used by presentation and stepping
// logic to inspect coroutines during one debugger pause.
//
// An Inspector wires the state resolver, continuation walker and stack
// builder over a pause session and runs every operation on the session's
// serialized command flow. It never fails because the debuggee resumed
// mid-operation: stale reads end the operation with the partial result and
// a warning. Errors are returned only for infrastructure problems such as a
// closed session or a cancelled context.
package inspector

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/corostack/internal/config"
	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/internal/coroutine/continuation"
	"github.com/coral-mesh/corostack/internal/coroutine/stack"
	"github.com/coral-mesh/corostack/internal/coroutine/state"
	"github.com/coral-mesh/corostack/internal/session"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// Inspector inspects coroutines of one paused process.
type Inspector struct {
	session  *session.Session
	resolver state.Resolver
	walker   *continuation.Walker
	builder  *stack.Builder
	logger   zerolog.Logger
}

// New opens an inspection session over a paused process. agent may be nil;
// it is ignored when the configuration disables it.
func New(proc remote.Process, agent remote.Agent, cfg *config.Config, logger zerolog.Logger) (*Inspector, error) {
	if !cfg.Resolver.UseAgent {
		agent = nil
	}

	s := session.New(proc, agent, cfg.Session.QueueSize, logger)
	logger = s.Logger().With().Str("component", "inspector").Logger()

	mirrorResolver, err := state.NewMirrorResolver(
		proc,
		cfg.Runtime,
		cfg.Resolver.DefaultName,
		s.Logger().With().Str("component", "state_resolver").Logger(),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var resolver state.Chain
	if agent != nil {
		resolver = append(resolver, state.NewAgentResolver(agent, cfg.Resolver.DefaultName))
	}
	resolver = append(resolver, mirrorResolver)

	walker := continuation.NewWalker(
		proc,
		cfg.Runtime,
		s.Locations(),
		cfg.Walker.MaxDepth,
		s.Logger().With().Str("component", "continuation_walker").Logger(),
	)

	builder := stack.NewBuilder(stack.Options{
		Process:     proc,
		Agent:       agent,
		Layout:      cfg.Runtime,
		Resolver:    resolver,
		Walker:      walker,
		Locator:     s.Locations(),
		DefaultName: cfg.Resolver.DefaultName,
		Logger:      s.Logger(),
	})

	return &Inspector{
		session:  s,
		resolver: resolver,
		walker:   walker,
		builder:  builder,
		logger:   logger,
	}, nil
}

// SessionID identifies the pause being inspected.
func (i *Inspector) SessionID() string {
	return i.session.ID()
}

// Classifier returns the frame classifier.
func (i *Inspector) Classifier() *classify.Classifier {
	return i.builder.Classifier()
}

// Close ends the inspection; call it when the process resumes.
func (i *Inspector) Close() error {
	return i.session.Close()
}

// stale reports and swallows a stale error.
func (i *Inspector) stale(op string, err error) error {
	if err == nil || !remote.IsStale(err) {
		return err
	}
	i.logger.Warn().Err(err).Str("operation", op).Msg("Process resumed during inspection, result truncated")
	return nil
}

// BuildLogicalStack returns the logical stack of a coroutine for the
// coroutine dump view.
func (i *Inspector) BuildLogicalStack(ctx context.Context, info *coroutine.Info) ([]coroutine.Frame, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) ([]coroutine.Frame, error) {
		frames, err := i.builder.Assemble(ctx, info)
		return frames, i.stale("build_logical_stack", err)
	})
}

// BuildLogicalStackFromFrame returns the logical stack seen from a boundary
// frame met while stepping through a thread. Ordinary frames yield nothing.
func (i *Inspector) BuildLogicalStackFromFrame(ctx context.Context, frame remote.Frame) ([]coroutine.Frame, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) ([]coroutine.Frame, error) {
		frames, err := i.builder.FromBoundary(ctx, frame)
		return frames, i.stale("build_logical_stack_from_frame", err)
	})
}

// Lookup builds the info of the coroutine owning a continuation.
func (i *Inspector) Lookup(ctx context.Context, ref remote.Ref, thread *remote.Thread) (*coroutine.Info, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) (*coroutine.Info, error) {
		info, err := i.builder.Lookup(ctx, ref, thread)
		return info, i.stale("lookup", err)
	})
}

// Resolve returns the identity of a coroutine or of any continuation of its
// chain. It returns state.ErrNotCoroutine when ref cannot be classified at
// all.
func (i *Inspector) Resolve(ctx context.Context, ref remote.Ref) (coroutine.Identity, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) (coroutine.Identity, error) {
		id, err := i.resolver.Resolve(ctx, ref)
		if errors.Is(err, state.ErrNotCoroutine) {
			i.logger.Debug().Stringer("ref", ref).Msg("Reference is not a coroutine")
			return id, err
		}
		return id, i.stale("resolve", err)
	})
}

// Walk recovers the restored frames of the continuation chain at ref.
func (i *Inspector) Walk(ctx context.Context, ref remote.Ref) (continuation.Chain, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) (continuation.Chain, error) {
		chain := i.walker.Walk(ctx, ref)
		if chain.Stop == continuation.StopStale {
			_ = i.stale("walk", chain.Err)
		}
		return chain, nil
	})
}

// Dump lists every coroutine known to the debug agent with its logical
// stack. It returns stack.ErrNoAgent when no agent is available.
func (i *Inspector) Dump(ctx context.Context) ([]stack.Entry, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) ([]stack.Entry, error) {
		entries, err := i.builder.Dump(ctx)
		return entries, i.stale("dump", err)
	})
}

// Threads lists the native threads of the process.
func (i *Inspector) Threads(ctx context.Context) ([]remote.Thread, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) ([]remote.Thread, error) {
		threads, err := i.session.Process().Threads(ctx)
		return threads, i.stale("threads", err)
	})
}

// Frames lists the native frames of a thread, innermost first.
func (i *Inspector) Frames(ctx context.Context, thread remote.ThreadID) ([]remote.Frame, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) ([]remote.Frame, error) {
		frames, err := i.session.Process().Frames(ctx, thread)
		return frames, i.stale("frames", err)
	})
}

// Load fetches the value of a captured variable.
func (i *Inspector) Load(ctx context.Context, v coroutine.Variable) (remote.Value, error) {
	return session.Run(ctx, i.session, func(ctx context.Context) (remote.Value, error) {
		return v.Load(ctx, i.session.Process())
	})
}

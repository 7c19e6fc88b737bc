// Package continuation recovers the frames of a suspended coroutine from its
// heap-resident continuation chain.
//
// Each continuation records where it resumes and which of its fields hold
// spilled local variables, and links to its caller's continuation through
// the completion field. The walk is an explicit loop guarded by a visited
// set and a depth limit: the chain is untrusted remote data.
package continuation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// StopReason tells why a walk ended.
type StopReason uint8

const (
	// StopEndOfChain: the completion link was null.
	StopEndOfChain StopReason = iota
	// StopNotContinuation: the link points at something else, usually the
	// coroutine object that owns the chain.
	StopNotContinuation
	// StopCycle: the link points at an already visited continuation.
	StopCycle
	// StopLinkUnreadable: the completion link could not be read.
	StopLinkUnreadable
	// StopStale: the process resumed during the walk.
	StopStale
	// StopDepthLimit: the chain is longer than the configured maximum.
	StopDepthLimit
)

func (r StopReason) String() string {
	switch r {
	case StopEndOfChain:
		return "end-of-chain"
	case StopNotContinuation:
		return "not-continuation"
	case StopCycle:
		return "cycle"
	case StopLinkUnreadable:
		return "link-unreadable"
	case StopStale:
		return "stale"
	case StopDepthLimit:
		return "depth-limit"
	default:
		return fmt.Sprintf("StopReason(%d)", uint8(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Truncated reports whether the walk ended before the chain did.
func (r StopReason) Truncated() bool {
	return r == StopLinkUnreadable || r == StopStale || r == StopDepthLimit
}

// Chain is the result of a walk.
type Chain struct {
	// Frames are the restored frames, innermost first.
	Frames []coroutine.Frame `json:"frames"`
	// Links is the number of continuations visited.
	Links int        `json:"links"`
	Stop  StopReason `json:"stop"`
	// Err is the error that truncated the walk, if any.
	Err error `json:"-"`
}

// Locator maps a class, method and line to a navigable location.
type Locator interface {
	Locate(ctx context.Context, class, method string, line int) (remote.Location, error)
}

// Walker walks continuation chains.
type Walker struct {
	proc     remote.Process
	layout   mirror.Layout
	locator  Locator
	maxDepth int
	logger   zerolog.Logger
}

// NewWalker creates a walker. A nil locator locates through proc directly.
func NewWalker(proc remote.Process, layout mirror.Layout, locator Locator, maxDepth int, logger zerolog.Logger) *Walker {
	if locator == nil {
		locator = proc
	}
	return &Walker{
		proc:     proc,
		layout:   layout,
		locator:  locator,
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// Walk recovers the frames of the chain starting at ref. It never fails:
// problems truncate the chain and are reported through Stop and Err.
func (w *Walker) Walk(ctx context.Context, ref remote.Ref) Chain {
	var chain Chain
	visited := make(map[remote.ObjectID]struct{})

	cur := ref
	for {
		if cur.IsNil() {
			chain.Stop = StopEndOfChain
			break
		}
		if _, seen := visited[cur.ID]; seen {
			chain.Stop = StopCycle
			break
		}
		if w.maxDepth > 0 && chain.Links >= w.maxDepth {
			chain.Stop = StopDepthLimit
			break
		}

		ok, err := w.layout.IsContinuation(ctx, w.proc, cur)
		if err != nil {
			chain.Stop, chain.Err = w.failure(err), err
			break
		}
		if !ok {
			chain.Stop = StopNotContinuation
			break
		}
		visited[cur.ID] = struct{}{}
		chain.Links++

		frame, err := w.frame(ctx, cur)
		switch {
		case remote.IsStale(err):
			chain.Stop, chain.Err = StopStale, err
		case err != nil:
			w.logger.Debug().Err(err).Stringer("continuation", cur).Msg("No frame for continuation")
		default:
			chain.Frames = append(chain.Frames, frame)
		}
		if chain.Stop == StopStale {
			break
		}

		next, err := w.layout.Completion(ctx, w.proc, cur)
		if err != nil {
			chain.Stop, chain.Err = w.failure(err), err
			break
		}
		cur = next
	}

	w.log(ref, chain)
	return chain
}

func (w *Walker) failure(err error) StopReason {
	if remote.IsStale(err) {
		return StopStale
	}
	return StopLinkUnreadable
}

func (w *Walker) log(ref remote.Ref, chain Chain) {
	var ev *zerolog.Event
	switch chain.Stop {
	case StopStale:
		ev = w.logger.Warn()
	case StopLinkUnreadable, StopCycle, StopDepthLimit:
		ev = w.logger.Debug()
	default:
		ev = w.logger.Trace()
	}
	ev.Err(chain.Err).
		Stringer("continuation", ref).
		Int("links", chain.Links).
		Int("frames", len(chain.Frames)).
		Stringer("stop", chain.Stop).
		Msg("Continuation chain walked")
}

// frame builds the restored frame of one continuation. Missing variable
// metadata yields a frame without variables.
func (w *Walker) frame(ctx context.Context, ref remote.Ref) (coroutine.Frame, error) {
	elem, err := w.layout.ResumeElement(ctx, w.proc, ref)
	if err != nil {
		return coroutine.Frame{}, fmt.Errorf("resume location of %s: %w", ref, err)
	}

	loc, err := w.locator.Locate(ctx, elem.Class, elem.Method, elem.Line)
	if err != nil {
		if remote.IsStale(err) {
			return coroutine.Frame{}, err
		}
		loc = elem.Location()
	}

	slots, err := w.layout.SpilledSlots(ctx, w.proc, ref)
	if err != nil {
		if remote.IsStale(err) {
			return coroutine.Frame{}, err
		}
		w.logger.Debug().Err(err).Stringer("continuation", ref).Msg("Spilled variables unavailable")
	}

	vars := make([]coroutine.Variable, 0, len(slots))
	for _, s := range slots {
		vars = append(vars, coroutine.Variable{Name: s.Name, Field: s.Field, Owner: ref})
	}

	return coroutine.NewRestored(loc, vars, ref), nil
}

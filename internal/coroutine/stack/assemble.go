package stack

import (
	"context"
	"errors"
	"fmt"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// Preflight is a boundary frame found on a live thread together with the
// coroutine it resumes.
type Preflight struct {
	Boundary     remote.Frame
	Mode         classify.ExitMode
	Continuation remote.Ref
	// Info is the coroutine owning Continuation.
	Info *coroutine.Info
	// FramesLeft are the native frames below the boundary, innermost first.
	FramesLeft []remote.Frame
}

// Preflight inspects frames[i]. It returns nil when the frame is not a
// boundary or its continuation cannot be extracted; the caller then treats
// it as an ordinary frame. It returns ErrAwaitingDispatch when the thread
// shows the coroutine parked, and a stale error when the process resumed.
func (b *Builder) Preflight(ctx context.Context, frames []remote.Frame, i int) (*Preflight, error) {
	if i < 0 || i >= len(frames) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", i, len(frames))
	}
	boundary := frames[i]
	if b.classifier.Classify(boundary.Location) != classify.Boundary {
		return nil, nil
	}

	mode := b.classifier.ExitMode(boundary.Location)
	ref, err := b.extract(ctx, boundary, mode)
	if err != nil {
		if remote.IsStale(err) {
			return nil, err
		}
		b.logger.Debug().
			Err(err).
			Stringer("frame", boundary.Location).
			Stringer("mode", mode).
			Msg("No continuation on boundary frame")
		return nil, nil
	}

	for _, f := range frames {
		if b.classifier.IsAwaitingMarker(f.Location) {
			b.logger.Debug().
				Uint64("thread", uint64(boundary.Thread)).
				Stringer("marker", f.Location).
				Msg("Coroutine awaiting dispatch, thread frames skipped")
			return nil, ErrAwaitingDispatch
		}
	}

	thread := &remote.Thread{ID: boundary.Thread}
	info, err := b.Lookup(ctx, ref, thread)
	pf := &Preflight{
		Boundary:     boundary,
		Mode:         mode,
		Continuation: ref,
		Info:         info,
		FramesLeft:   frames[i+1:],
	}
	return pf, err
}

// extract reads the continuation of a boundary frame: the receiver for
// lambdas, the continuation local for suspend methods.
func (b *Builder) extract(ctx context.Context, frame remote.Frame, mode classify.ExitMode) (remote.Ref, error) {
	var ref remote.Ref
	switch mode {
	case classify.ExitSuspendLambda:
		this, err := b.proc.This(ctx, frame)
		if err != nil {
			return remote.Ref{}, err
		}
		ref = this
	case classify.ExitSuspendMethod:
		v, err := b.proc.Local(ctx, frame, b.layout.ContinuationVariable)
		if err != nil {
			return remote.Ref{}, err
		}
		if v.Kind != remote.KindObject {
			return remote.Ref{}, fmt.Errorf("local %s is %s", b.layout.ContinuationVariable, v)
		}
		ref = v.Ref
	default:
		return remote.Ref{}, fmt.Errorf("exit mode %s", mode)
	}

	if ref.IsNil() {
		return remote.Ref{}, errors.New("continuation is null")
	}
	ok, err := b.layout.IsContinuation(ctx, b.proc, ref)
	if err != nil {
		return remote.Ref{}, err
	}
	if !ok {
		return remote.Ref{}, fmt.Errorf("%s is not a continuation", ref)
	}
	return ref, nil
}

// Splice returns the logical stack from a preflight boundary outward:
// the spliced boundary, the remaining restored frames anchored to it, the
// transition frame, the remaining native frames and the creation frames.
func (b *Builder) Splice(pf *Preflight, creation []coroutine.Frame) []coroutine.Frame {
	restored := pf.Info.Restored
	out := make([]coroutine.Frame, 0, len(restored)+len(pf.FramesLeft)+len(creation)+1)

	if len(restored) == 0 {
		out = append(out, coroutine.NewSpliced(pf.Boundary, coroutine.Frame{Location: pf.Boundary.Location}))
		for _, f := range pf.FramesLeft {
			out = append(out, coroutine.NewLive(f))
		}
		return append(out, creation...)
	}

	out = append(out, coroutine.NewSpliced(pf.Boundary, restored[0]))
	for _, r := range restored[1:] {
		out = append(out, r.Anchored(pf.Boundary))
	}
	for j, f := range pf.FramesLeft {
		if j == 0 {
			out = append(out, coroutine.NewTransition(f, restored[len(restored)-1]))
			continue
		}
		out = append(out, coroutine.NewLive(f))
	}
	return append(out, creation...)
}

// Assemble returns the logical stack of a coroutine, innermost first.
//
// Running coroutines are spliced into their active thread; suspended ones
// yield their restored frames unchanged; every other state yields nothing.
// The error is non-nil only when the process resumed mid-assembly, in which
// case the frames built so far are returned with it.
func (b *Builder) Assemble(ctx context.Context, info *coroutine.Info) ([]coroutine.Frame, error) {
	switch info.Identity.State {
	case coroutine.StateRunning:
		return b.assembleRunning(ctx, info)
	case coroutine.StateSuspended:
		return info.Restored, nil
	default:
		return nil, nil
	}
}

func (b *Builder) assembleRunning(ctx context.Context, info *coroutine.Info) ([]coroutine.Frame, error) {
	if info.ActiveThread == nil {
		b.logger.Warn().
			Str("coroutine", info.Identity.ID).
			Msg("Running coroutine has no active thread")
		return nil, nil
	}

	frames, err := b.proc.Frames(ctx, info.ActiveThread.ID)
	if err != nil {
		if remote.IsStale(err) {
			return nil, err
		}
		b.logger.Debug().Err(err).Uint64("thread", uint64(info.ActiveThread.ID)).Msg("Thread frames unavailable")
		return nil, nil
	}

	out := make([]coroutine.Frame, 0, len(frames))
	for i, f := range frames {
		if b.classifier.Classify(f.Location) != classify.Boundary {
			out = append(out, coroutine.NewLive(f))
			continue
		}

		pf, err := b.Preflight(ctx, frames, i)
		if errors.Is(err, ErrAwaitingDispatch) {
			return nil, nil
		}
		if pf == nil {
			if err != nil {
				return out, err
			}
			out = append(out, coroutine.NewLive(f))
			continue
		}

		creation := pf.Info.Creation
		if len(creation) == 0 {
			creation = info.Creation
		}
		return append(out, b.Splice(pf, creation)...), err
	}

	return append(out, info.Creation...), nil
}

// FromBoundary returns the logical stack seen from a boundary frame met
// while walking an ordinary thread: the splice at that frame and everything
// below it. It returns nothing when frame is not a usable boundary.
func (b *Builder) FromBoundary(ctx context.Context, frame remote.Frame) ([]coroutine.Frame, error) {
	frames, err := b.proc.Frames(ctx, frame.Thread)
	if err != nil {
		if remote.IsStale(err) {
			return nil, err
		}
		b.logger.Debug().Err(err).Uint64("thread", uint64(frame.Thread)).Msg("Thread frames unavailable")
		return nil, nil
	}
	if frame.Depth < 0 || frame.Depth >= len(frames) {
		b.logger.Warn().Int("depth", frame.Depth).Int("frames", len(frames)).Msg("Boundary frame not on thread")
		return nil, nil
	}

	pf, err := b.Preflight(ctx, frames, frame.Depth)
	if errors.Is(err, ErrAwaitingDispatch) {
		return nil, nil
	}
	if pf == nil {
		if err == nil {
			b.logger.Debug().Stringer("frame", frame.Location).Msg("Not a boundary frame")
		}
		return nil, err
	}
	return b.Splice(pf, pf.Info.Creation), err
}

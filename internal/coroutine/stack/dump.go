package stack

import (
	"context"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/continuation"
	"github.com/coral-mesh/corostack/internal/coroutine/state"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// Entry is one coroutine of a coroutine dump.
type Entry struct {
	Info   *coroutine.Info   `json:"info"`
	Frames []coroutine.Frame `json:"frames"`
	// Stop tells how the walk of the last observed frame ended.
	Stop continuation.StopReason `json:"stop"`
}

// Dump lists every coroutine known to the debug agent with its logical
// stack, in agent order. A stale process ends the dump early; the entries
// completed so far are returned with the error.
func (b *Builder) Dump(ctx context.Context) ([]Entry, error) {
	if b.agent == nil {
		return nil, ErrNoAgent
	}

	records, err := b.agent.Coroutines(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for i := range records {
		entry, err := b.entry(ctx, &records[i])
		if err != nil {
			if remote.IsStale(err) {
				return entries, err
			}
			b.logger.Debug().Err(err).Stringer("coroutine", records[i].Coroutine).Msg("Coroutine skipped")
			continue
		}
		entries = append(entries, entry)
	}

	b.logger.Debug().Int("coroutines", len(entries)).Msg("Coroutine dump built")
	return entries, nil
}

func (b *Builder) entry(ctx context.Context, rec *remote.AgentRecord) (Entry, error) {
	id := state.FromRecord(rec, b.defaultName)

	var chain continuation.Chain
	if !rec.LastObservedFrame.IsNil() {
		chain = b.walker.Walk(ctx, rec.LastObservedFrame)
		if chain.Stop == continuation.StopStale {
			return Entry{}, chain.Err
		}
	}

	creation, err := b.Creation(ctx, rec.CreationTrace)
	if err != nil {
		return Entry{}, err
	}

	info := coroutine.NewInfo(id, chain.Frames, creation, rec.Thread)
	info.LastObservedFrame = rec.LastObservedFrame

	frames, err := b.Assemble(ctx, info)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Info: info, Frames: frames, Stop: chain.Stop}, nil
}

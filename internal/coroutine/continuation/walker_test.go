package continuation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
	"github.com/coral-mesh/corostack/internal/snapshot"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// chainHeap is a two-link chain 20 -> 21 ending at coroutine 10.
const chainHeap = `
threads: []
sources:
  app.MainKt: Main.kt
objects:
  - id: 10
    type: kotlinx.coroutines.StandaloneCoroutine
    supertypes: [kotlinx.coroutines.AbstractCoroutine]
  - id: 20
    type: app.MainKt$load$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: 21}
      L$0: config.yaml
      I$0: 3
    calls:
      getStackTraceElement: {ref: 100}
      getSpilledVariableFieldMapping: {ref: 200}
  - id: 21
    type: app.MainKt$main$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: 10}
    calls:
      getStackTraceElement: {ref: 101}
      getSpilledVariableFieldMapping: null
  - id: 100
    type: java.lang.StackTraceElement
    fields:
      declaringClass: app.MainKt
      methodName: load
      lineNumber: 17
  - id: 101
    type: java.lang.StackTraceElement
    fields:
      declaringClass: app.MainKt
      methodName: main
      fileName: Main.kt
      lineNumber: 5
  - id: 200
    type: java.lang.String[]
    elements: [L$0, path, I$0, attempt]
`

func parse(t *testing.T, doc string) *snapshot.Process {
	t.Helper()
	p, err := snapshot.Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

func newWalker(p remote.Process, maxDepth int) *Walker {
	return NewWalker(p, mirror.DefaultLayout(), nil, maxDepth, zerolog.Nop())
}

func ref(id uint64) remote.Ref {
	return remote.Ref{ID: remote.ObjectID(id)}
}

func TestWalk(t *testing.T) {
	p := parse(t, chainHeap)
	chain := newWalker(p, 0).Walk(context.Background(), ref(20))

	assert.Equal(t, StopNotContinuation, chain.Stop)
	assert.NoError(t, chain.Err)
	assert.Equal(t, 2, chain.Links)
	require.Len(t, chain.Frames, 2)

	first := chain.Frames[0]
	assert.Equal(t, coroutine.FrameRestored, first.Kind)
	assert.Equal(t, remote.Location{Class: "app.MainKt", Method: "load", File: "Main.kt", Line: 17}, first.Location)
	assert.Equal(t, remote.ObjectID(20), first.Continuation.ID)
	require.Len(t, first.Variables, 2)
	assert.Equal(t, "path", first.Variables[0].Name)
	assert.Equal(t, "L$0", first.Variables[0].Field)
	assert.Equal(t, "attempt", first.Variables[1].Name)

	second := chain.Frames[1]
	assert.Equal(t, "main", second.Location.Method)
	assert.Equal(t, 5, second.Location.Line)
	assert.Empty(t, second.Variables)
}

func TestWalk_VariablesAreLazy(t *testing.T) {
	p := parse(t, chainHeap)
	chain := newWalker(p, 0).Walk(context.Background(), ref(20))
	require.NotEmpty(t, chain.Frames)

	before := p.Calls()
	v, err := chain.Frames[0].Variables[0].Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, remote.String("config.yaml"), v)
	assert.Equal(t, before+1, p.Calls())

	v, err = chain.Frames[0].Variables[1].Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, remote.Int(3), v)
}

func TestWalk_EndOfChain(t *testing.T) {
	p := parse(t, `
threads: []
objects:
  - id: 1
    type: app.A
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: null
    calls:
      getStackTraceElement: {ref: 2}
  - id: 2
    type: java.lang.StackTraceElement
    fields:
      declaringClass: app.A
      methodName: run
      lineNumber: 1
`)
	chain := newWalker(p, 0).Walk(context.Background(), ref(1))
	assert.Equal(t, StopEndOfChain, chain.Stop)
	assert.Len(t, chain.Frames, 1)
	assert.False(t, chain.Stop.Truncated())
}

// cycleHeap builds a ring of k continuations.
func cycleHeap(k int) string {
	var b strings.Builder
	b.WriteString("threads: []\nobjects:\n")
	for i := 1; i <= k; i++ {
		next := i%k + 1
		fmt.Fprintf(&b, `  - id: %d
    type: app.Ring%d
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: %d}
    calls:
      getStackTraceElement: {ref: %d}
  - id: %d
    type: java.lang.StackTraceElement
    fields:
      declaringClass: app.Ring
      methodName: step
      lineNumber: %d
`, i, i, next, 1000+i, 1000+i, i)
	}
	return b.String()
}

func TestWalk_Cycle(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("ring of %d", k), func(t *testing.T) {
			chain := newWalker(parse(t, cycleHeap(k)), 0).Walk(context.Background(), ref(1))
			assert.Equal(t, StopCycle, chain.Stop)
			assert.Equal(t, k, chain.Links)
			assert.Len(t, chain.Frames, k)
		})
	}
}

func TestWalk_RecursiveFramesKeepOrder(t *testing.T) {
	chain := newWalker(parse(t, cycleHeap(3)), 0).Walk(context.Background(), ref(2))
	require.Len(t, chain.Frames, 3)

	// Same class and method, different lines: chain order, no dedup.
	lines := []int{chain.Frames[0].Location.Line, chain.Frames[1].Location.Line, chain.Frames[2].Location.Line}
	assert.Equal(t, []int{2, 3, 1}, lines)
}

func TestWalk_DepthLimit(t *testing.T) {
	chain := newWalker(parse(t, cycleHeap(5)), 3).Walk(context.Background(), ref(1))
	assert.Equal(t, StopDepthLimit, chain.Stop)
	assert.Equal(t, 3, chain.Links)
	assert.True(t, chain.Stop.Truncated())
}

func TestWalk_UnreadableLocationSkipsFrame(t *testing.T) {
	p := parse(t, `
threads: []
objects:
  - id: 1
    type: app.A
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: 2}
  - id: 2
    type: app.B
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: null
    calls:
      getStackTraceElement: {ref: 3}
  - id: 3
    type: java.lang.StackTraceElement
    fields:
      declaringClass: app.B
      methodName: b
      lineNumber: 9
`)
	chain := newWalker(p, 0).Walk(context.Background(), ref(1))
	assert.Equal(t, StopEndOfChain, chain.Stop)
	assert.Equal(t, 2, chain.Links)
	require.Len(t, chain.Frames, 1)
	assert.Equal(t, "b", chain.Frames[0].Location.Method)
}

func TestWalk_UnreadableLinkAborts(t *testing.T) {
	p := parse(t, `
threads: []
objects:
  - id: 1
    type: app.A
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    calls:
      getStackTraceElement: {ref: 3}
  - id: 3
    type: java.lang.StackTraceElement
    fields:
      declaringClass: app.A
      methodName: a
      lineNumber: 1
`)
	chain := newWalker(p, 0).Walk(context.Background(), ref(1))
	assert.Equal(t, StopLinkUnreadable, chain.Stop)
	assert.ErrorIs(t, chain.Err, remote.ErrNotFound)
	assert.Len(t, chain.Frames, 1)
}

func TestWalk_NotAContinuation(t *testing.T) {
	chain := newWalker(parse(t, chainHeap), 0).Walk(context.Background(), ref(10))
	assert.Equal(t, StopNotContinuation, chain.Stop)
	assert.Empty(t, chain.Frames)
	assert.Zero(t, chain.Links)
}

func TestWalk_StaleTruncates(t *testing.T) {
	p := parse(t, chainHeap)
	// Enough calls for the first link (type check, location, four element
	// fields, locate, spilled mapping, elements, completion) but not the
	// second.
	p.ResumeAfter(11)

	chain := newWalker(p, 0).Walk(context.Background(), ref(20))
	assert.Equal(t, StopStale, chain.Stop)
	assert.True(t, remote.IsStale(chain.Err))
	assert.Len(t, chain.Frames, 1)
}

type fixedLocator struct{ file string }

func (l fixedLocator) Locate(_ context.Context, class, method string, line int) (remote.Location, error) {
	return remote.Location{Class: class, Method: method, File: l.file, Line: line}, nil
}

func TestWalk_UsesLocator(t *testing.T) {
	p := parse(t, chainHeap)
	w := NewWalker(p, mirror.DefaultLayout(), fixedLocator{file: "Generated.kt"}, 0, zerolog.Nop())

	chain := w.Walk(context.Background(), ref(20))
	require.Len(t, chain.Frames, 2)
	assert.Equal(t, "Generated.kt", chain.Frames[0].Location.File)
}

func TestStopReasonString(t *testing.T) {
	assert.Equal(t, "cycle", StopCycle.String())
	assert.Equal(t, "stale", StopStale.String())
	assert.Equal(t, "StopReason(99)", StopReason(99).String())
}

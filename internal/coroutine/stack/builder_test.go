package stack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/continuation"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
	"github.com/coral-mesh/corostack/internal/coroutine/state"
	"github.com/coral-mesh/corostack/internal/snapshot"
	"github.com/coral-mesh/corostack/internal/testutil"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// heap describes one process with:
//
//	thread 1: compute, invokeSuspend (lambda, this=20), scheduler run
//	thread 2: the same boundary parked on the awaiting-dispatch marker
//	thread 3: a boundary whose receiver is not a continuation
//	thread 4: a suspend method boundary with a synthetic line, continuation
//	          in the $continuation local
//
// Continuations 20 (locX) -> 21 (locY) belong to coroutine 10 (id 7,
// RUNNING on thread 1). Continuation 50 belongs to nobody. Coroutine 60 is
// suspended at continuation 61; coroutine 70 has completed.
const heap = `
threads:
  - id: 1
    name: DefaultDispatcher-worker-1
    frames:
      - {class: app.MainKt, method: compute, line: 21}
      - {class: app.MainKt$main$1, method: invokeSuspend, signature: "(Ljava/lang/Object;)Ljava/lang/Object;", line: 12, this: 20}
      - {class: kotlinx.coroutines.scheduling.CoroutineScheduler$Worker, method: run, line: 749}
  - id: 2
    name: DefaultDispatcher-worker-2
    frames:
      - {class: kotlin.coroutines.intrinsics.IntrinsicsKt__IntrinsicsKt, method: getCOROUTINE_SUSPENDED, line: 0}
      - {class: app.MainKt$main$1, method: invokeSuspend, line: 12, this: 20}
      - {class: kotlinx.coroutines.scheduling.CoroutineScheduler$Worker, method: run, line: 749}
  - id: 3
    name: DefaultDispatcher-worker-3
    frames:
      - {class: app.MainKt$main$1, method: invokeSuspend, line: 12, this: 90}
      - {class: kotlinx.coroutines.scheduling.CoroutineScheduler$Worker, method: run, line: 749}
  - id: 4
    name: main
    frames:
      - {class: app.Repo, method: load, line: 5}
      - class: app.Repo
        method: invokeSuspend
        signature: "(Ljava/lang/String;Lkotlin/coroutines/Continuation;)Ljava/lang/Object;"
        line: -1
        locals:
          $continuation: {ref: 50}
      - {class: kotlinx.coroutines.BlockingEventLoop, method: processNextEvent, line: 80}
      - {class: app.MainKt, method: main, line: 3}
sources:
  app.MainKt: Main.kt
  app.Repo: Repo.kt
unloaded_classes: [kotlinx.coroutines.BuildersKt]
objects:
  - id: 10
    type: kotlinx.coroutines.StandaloneCoroutine
    supertypes: [kotlinx.coroutines.AbstractCoroutine]
    repr: "StandaloneCoroutine{Active}@a"
    fields:
      context: {ref: 11}
  - id: 11
    type: kotlinx.coroutines.CoroutineId
    fields:
      id: 7
  - id: 20
    type: app.MainKt$main$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: 21}
      L$0: x
    calls:
      getStackTraceElement: {ref: 100}
      getSpilledVariableFieldMapping: {ref: 200}
  - id: 21
    type: app.MainKt$outer$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: 10}
      L$0: y
    calls:
      getStackTraceElement: {ref: 101}
      getSpilledVariableFieldMapping: {ref: 201}
  - id: 50
    type: app.Repo$load$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: null
    calls:
      getStackTraceElement: {ref: 102}
  - id: 60
    type: kotlinx.coroutines.StandaloneCoroutine
    supertypes: [kotlinx.coroutines.AbstractCoroutine]
    repr: "StandaloneCoroutine{Active}@3c"
  - id: 61
    type: app.MainKt$idle$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: {ref: 60}
    calls:
      getStackTraceElement: {ref: 103}
  - id: 70
    type: kotlinx.coroutines.StandaloneCoroutine
    supertypes: [kotlinx.coroutines.AbstractCoroutine]
    repr: "StandaloneCoroutine{Completed}@46"
  - id: 90
    type: java.lang.Object
  - id: 100
    type: java.lang.StackTraceElement
    fields: {declaringClass: app.MainKt, methodName: main, lineNumber: 12}
  - id: 101
    type: java.lang.StackTraceElement
    fields: {declaringClass: app.MainKt, methodName: outer, lineNumber: 30}
  - id: 102
    type: java.lang.StackTraceElement
    fields: {declaringClass: app.Repo, methodName: load, lineNumber: 9}
  - id: 103
    type: java.lang.StackTraceElement
    fields: {declaringClass: app.MainKt, methodName: idle, lineNumber: 44}
  - id: 200
    type: java.lang.String[]
    elements: [L$0, varsX]
  - id: 201
    type: java.lang.String[]
    elements: [L$0, varsY]
agent:
  coroutines:
    - coroutine: 10
      sequence_number: 7
      state: RUNNING
      thread: 1
      creation_trace:
        - {class: kotlinx.coroutines.BuildersKt, method: launch, file: Builders.common.kt, line: 56}
        - {class: app.MainKt, method: main, line: 2}
    - coroutine: 60
      sequence_number: 8
      name: idler
      state: SUSPENDED
      last_observed_frame: 61
    - coroutine: 70
      sequence_number: 9
      state: COMPLETED
`

func newBuilder(t *testing.T, p *snapshot.Process) *Builder {
	t.Helper()
	layout := mirror.DefaultLayout()
	logger := testutil.NewTestLoggerWithOutput(t)

	mirrorResolver, err := state.NewMirrorResolver(p, layout, coroutine.DefaultName, logger)
	require.NoError(t, err)

	var resolver state.Chain
	agent := p.Agent(layout.CompletionField)
	if agent != nil {
		resolver = append(resolver, state.NewAgentResolver(agent, coroutine.DefaultName))
	}
	resolver = append(resolver, mirrorResolver)

	return NewBuilder(Options{
		Process:  p,
		Agent:    agent,
		Layout:   layout,
		Resolver: resolver,
		Walker:   continuation.NewWalker(p, layout, nil, 64, logger),
		Logger:   logger,
	})
}

func running(t *testing.T, b *Builder, thread remote.ThreadID) *coroutine.Info {
	t.Helper()
	creation, err := b.Creation(context.Background(), []remote.StackTraceElement{
		{Class: "kotlinx.coroutines.BuildersKt", Method: "launch", File: "Builders.common.kt", Line: 56},
		{Class: "app.MainKt", Method: "main", Line: 2},
	})
	require.NoError(t, err)
	id := coroutine.Identity{Name: "coroutine", ID: "7", State: coroutine.StateRunning}
	return coroutine.NewInfo(id, nil, creation, &remote.Thread{ID: thread})
}

func kinds(frames []coroutine.Frame) []coroutine.FrameKind {
	out := make([]coroutine.FrameKind, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Kind)
	}
	return out
}

func TestAssemble_Running(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	b := newBuilder(t, p)
	ctx := context.Background()

	frames, err := b.Assemble(ctx, running(t, b, 1))
	require.NoError(t, err)

	require.Equal(t, []coroutine.FrameKind{
		coroutine.FrameLive,
		coroutine.FrameSpliced,
		coroutine.FrameRestored,
		coroutine.FrameTransition,
		coroutine.FrameCreation,
		coroutine.FrameCreation,
	}, kinds(frames))

	live := frames[0]
	assert.Equal(t, "compute", live.Location.Method)
	require.NotNil(t, live.Native)
	assert.Equal(t, 0, live.Native.Depth)

	spliced := frames[1]
	require.NotNil(t, spliced.Native)
	assert.Equal(t, "invokeSuspend", spliced.Native.Location.Method)
	assert.Equal(t, remote.Location{Class: "app.MainKt", Method: "main", File: "Main.kt", Line: 12}, spliced.Location)
	require.Len(t, spliced.Variables, 1)
	assert.Equal(t, "varsX", spliced.Variables[0].Name)

	restored := frames[2]
	assert.Equal(t, "outer", restored.Location.Method)
	require.Len(t, restored.Variables, 1)
	assert.Equal(t, "varsY", restored.Variables[0].Name)
	require.NotNil(t, restored.Anchor)
	assert.Equal(t, 1, restored.Anchor.Depth)
	assert.Nil(t, restored.Native)

	transition := frames[3]
	require.NotNil(t, transition.Native)
	assert.Equal(t, 2, transition.Native.Depth)
	assert.Equal(t, "run", transition.Location.Method)
	require.NotNil(t, transition.Paired)
	assert.Equal(t, restored.Location, *transition.Paired)
	assert.Equal(t, "outer", transition.Paired.Method)
	assert.Equal(t, restored.Variables, transition.Variables)
	assert.Equal(t, restored.Continuation, transition.Continuation)

	assert.True(t, frames[4].First)
	assert.False(t, frames[5].First)
	// The launch site class is not loaded: its raw trace location is kept.
	assert.Equal(t, "Builders.common.kt", frames[4].Location.File)
	assert.Equal(t, "Main.kt", frames[5].Location.File)
}

func TestAssemble_Suspended(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	restored := []coroutine.Frame{
		coroutine.NewRestored(remote.Location{Class: "a.B", Method: "c", Line: 1}, nil, remote.Ref{ID: 1}),
		coroutine.NewRestored(remote.Location{Class: "a.B", Method: "c", Line: 1}, []coroutine.Variable{{Name: "n", Field: "I$0"}}, remote.Ref{ID: 2}),
		coroutine.NewRestored(remote.Location{Class: "a.D", Method: "e", Line: 7}, nil, remote.Ref{ID: 3}),
	}
	info := coroutine.NewInfo(coroutine.Identity{State: coroutine.StateSuspended}, restored, nil, &remote.Thread{ID: 1})
	assert.Nil(t, info.ActiveThread)

	frames, err := b.Assemble(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, restored, frames)
}

func TestAssemble_OtherStatesAreEmpty(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))
	restored := []coroutine.Frame{coroutine.NewRestored(remote.Location{Class: "a.B", Method: "c"}, nil, remote.Ref{ID: 1})}

	for _, s := range []coroutine.State{
		coroutine.StateCreated,
		coroutine.StateNew,
		coroutine.StateCancelled,
		coroutine.StateCompleted,
		coroutine.StateUnknown,
		coroutine.StateSuspendedCancelling,
		coroutine.StateSuspendedCompleting,
	} {
		t.Run(s.String(), func(t *testing.T) {
			info := coroutine.NewInfo(coroutine.Identity{State: s}, restored, restored, &remote.Thread{ID: 1})
			frames, err := b.Assemble(context.Background(), info)
			require.NoError(t, err)
			assert.Empty(t, frames)
		})
	}
}

func TestAssemble_RunningWithoutThread(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))
	info := coroutine.NewInfo(coroutine.Identity{State: coroutine.StateRunning}, nil, nil, nil)

	frames, err := b.Assemble(context.Background(), info)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestAssemble_AwaitingDispatch(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	frames, err := b.Assemble(context.Background(), running(t, b, 2))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestAssemble_ExtractionFailureKeepsLiveFrame(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	frames, err := b.Assemble(context.Background(), running(t, b, 3))
	require.NoError(t, err)
	assert.Equal(t, []coroutine.FrameKind{
		coroutine.FrameLive,
		coroutine.FrameLive,
		coroutine.FrameCreation,
		coroutine.FrameCreation,
	}, kinds(frames))
}

func TestAssemble_SuspendMethodBoundary(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	frames, err := b.Assemble(context.Background(), running(t, b, 4))
	require.NoError(t, err)

	// Continuation 50 has no owner: it is spliced under the unknown identity
	// and, lacking an agent record, carries no creation trace of its own.
	assert.Equal(t, []coroutine.FrameKind{
		coroutine.FrameLive,
		coroutine.FrameSpliced,
		coroutine.FrameTransition,
		coroutine.FrameLive,
		coroutine.FrameCreation,
		coroutine.FrameCreation,
	}, kinds(frames))
	assert.Equal(t, -1, frames[1].Native.Location.Line)
	assert.Equal(t, remote.Location{Class: "app.Repo", Method: "load", File: "Repo.kt", Line: 9}, frames[1].Location)
	assert.Equal(t, "processNextEvent", frames[2].Location.Method)
	assert.Equal(t, remote.ObjectID(50), frames[2].Continuation.ID)
}

func TestAssemble_StaleTruncates(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	b := newBuilder(t, p)
	info := running(t, b, 1)

	// Frames succeeds; reading the boundary receiver does not.
	p.ResumeAfter(1)

	frames, err := b.Assemble(context.Background(), info)
	assert.True(t, remote.IsStale(err))
	assert.Equal(t, []coroutine.FrameKind{coroutine.FrameLive}, kinds(frames))
}

func TestPreflight(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	b := newBuilder(t, p)
	ctx := context.Background()

	frames, err := p.Frames(ctx, 1)
	require.NoError(t, err)

	pf, err := b.Preflight(ctx, frames, 0)
	require.NoError(t, err)
	assert.Nil(t, pf, "ordinary frame")

	pf, err = b.Preflight(ctx, frames, 1)
	require.NoError(t, err)
	require.NotNil(t, pf)
	assert.Equal(t, remote.ObjectID(20), pf.Continuation.ID)
	assert.Equal(t, "suspend-lambda", pf.Mode.String())
	assert.Len(t, pf.FramesLeft, 1)
	assert.Equal(t, coroutine.StateRunning, pf.Info.Identity.State)
	assert.Equal(t, "7", pf.Info.Identity.ID)
	assert.Len(t, pf.Info.Restored, 2)
	assert.Len(t, pf.Info.Creation, 2)
	require.NotNil(t, pf.Info.ActiveThread)
	assert.Equal(t, remote.ThreadID(1), pf.Info.ActiveThread.ID)

	_, err = b.Preflight(ctx, frames, 3)
	assert.Error(t, err)

	parked, err := p.Frames(ctx, 2)
	require.NoError(t, err)
	_, err = b.Preflight(ctx, parked, 1)
	assert.ErrorIs(t, err, ErrAwaitingDispatch)
}

func TestFromBoundary(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	b := newBuilder(t, p)
	ctx := context.Background()

	frames, err := p.Frames(ctx, 1)
	require.NoError(t, err)

	got, err := b.FromBoundary(ctx, frames[1])
	require.NoError(t, err)
	assert.Equal(t, []coroutine.FrameKind{
		coroutine.FrameSpliced,
		coroutine.FrameRestored,
		coroutine.FrameTransition,
		coroutine.FrameCreation,
		coroutine.FrameCreation,
	}, kinds(got))

	got, err = b.FromBoundary(ctx, frames[0])
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = b.FromBoundary(ctx, remote.Frame{Thread: 1, Depth: 17})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSplice_NoRestoredFrames(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	boundary := remote.Frame{Thread: 1, Depth: 1, Location: remote.Location{Class: "a.B$1", Method: "invokeSuspend", Line: -1}}
	below := remote.Frame{Thread: 1, Depth: 2, Location: remote.Location{Class: "a.W", Method: "run", Line: 5}}
	pf := &Preflight{
		Boundary:   boundary,
		Info:       coroutine.NewInfo(coroutine.UnknownIdentity(), nil, nil, nil),
		FramesLeft: []remote.Frame{below},
	}

	got := b.Splice(pf, nil)
	require.Len(t, got, 2)
	assert.Equal(t, coroutine.FrameSpliced, got[0].Kind)
	assert.Equal(t, boundary.Location, got[0].Location)
	assert.Equal(t, coroutine.FrameLive, got[1].Kind)
}

func TestLookup_UnidentifiedContinuation(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	info, err := b.Lookup(context.Background(), remote.Ref{ID: 50}, &remote.Thread{ID: 4})
	require.NoError(t, err)
	assert.Equal(t, coroutine.UnknownIdentity(), info.Identity)
	assert.Len(t, info.Restored, 1)
	assert.Empty(t, info.Creation)
	assert.Nil(t, info.ActiveThread)
}

func TestCreation(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	frames, err := b.Creation(context.Background(), []remote.StackTraceElement{
		{Class: "app.MainKt", Method: "main", Line: 2},
		{Class: "kotlinx.coroutines.BuildersKt", Method: "launch", Line: 56},
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.True(t, frames[0].First)
	assert.Equal(t, "Main.kt", frames[0].Location.File)
	require.NotNil(t, frames[1].Trace)
	assert.Equal(t, frames[1].Trace.Location(), frames[1].Location)

	frames, err = b.Creation(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestDump(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, heap))

	entries, err := b.Dump(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	runningEntry := entries[0]
	assert.Equal(t, "7", runningEntry.Info.Identity.ID)
	assert.Equal(t, coroutine.StateRunning, runningEntry.Info.Identity.State)
	require.NotNil(t, runningEntry.Info.ActiveThread)
	assert.Equal(t, "DefaultDispatcher-worker-1", runningEntry.Info.ActiveThread.Name)
	assert.Len(t, runningEntry.Frames, 6)

	suspended := entries[1]
	assert.Equal(t, "idler", suspended.Info.Identity.Name)
	assert.Equal(t, remote.ObjectID(61), suspended.Info.LastObservedFrame.ID)
	require.Len(t, suspended.Frames, 1)
	assert.Equal(t, coroutine.FrameRestored, suspended.Frames[0].Kind)
	assert.Equal(t, "idle", suspended.Frames[0].Location.Method)
	assert.Equal(t, continuation.StopNotContinuation, suspended.Stop)

	completed := entries[2]
	assert.Equal(t, coroutine.StateCompleted, completed.Info.Identity.State)
	assert.Empty(t, completed.Frames)
}

func TestDump_NoAgent(t *testing.T) {
	b := newBuilder(t, testutil.ParseSnapshot(t, `
threads: []
objects: []
`))
	_, err := b.Dump(context.Background())
	assert.ErrorIs(t, err, ErrNoAgent)
}

func TestDump_Stale(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	b := newBuilder(t, p)
	p.Resume()

	entries, err := b.Dump(context.Background())
	assert.True(t, remote.IsStale(err))
	assert.Empty(t, entries)
}

package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/corostack/internal/testutil"
	"github.com/coral-mesh/corostack/pkg/remote"
)

const heap = `
objects:
  - id: 1
    type: kotlinx.coroutines.StandaloneCoroutine
    supertypes: [kotlinx.coroutines.AbstractCoroutine]
    fields:
      context: {ref: 2}
  - id: 2
    type: kotlin.coroutines.CombinedContext
    fields:
      left: {ref: 3}
      element: {ref: 4}
  - id: 3
    type: kotlin.coroutines.CombinedContext
    fields:
      left: {ref: 5}
      element: {ref: 6}
  - id: 4
    type: kotlinx.coroutines.scheduling.DefaultScheduler
    supertypes: [kotlinx.coroutines.CoroutineDispatcher]
    repr: Dispatchers.Default
  - id: 5
    type: kotlinx.coroutines.CoroutineId
    fields:
      id: 12
  - id: 6
    type: kotlinx.coroutines.CoroutineName
    fields:
      name: loader
  - id: 10
    type: app.A$run$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: null
      broken: 3
    calls:
      getStackTraceElement: {ref: 11}
      getSpilledVariableFieldMapping: {ref: 12}
  - id: 11
    type: java.lang.StackTraceElement
    fields: {declaringClass: app.A, methodName: run}
  - id: 12
    type: java.lang.String[]
    elements: [L$0, user, 7, count, I$1]
  - id: 20
    type: app.B$run$1
    supertypes: [kotlin.coroutines.jvm.internal.BaseContinuationImpl]
    fields:
      completion: 4
    calls:
      getStackTraceElement: 9
      getSpilledVariableFieldMapping: null
  - id: 30
    type: kotlinx.coroutines.StandaloneCoroutine
    supertypes: [kotlinx.coroutines.AbstractCoroutine]
    fields:
      context: plain
`

func TestReadContext(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	l := DefaultLayout()
	ctx := context.Background()

	ok, err := l.IsAbstractCoroutine(ctx, p, remote.Ref{ID: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := l.ReadContext(ctx, p, remote.Ref{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, Context{ID: 12, HasID: true, Name: "loader", Dispatcher: "Dispatchers.Default"}, got)

	_, err = l.ReadContext(ctx, p, remote.Ref{ID: 30})
	assert.ErrorIs(t, err, ErrMismatch)

	p.Resume()
	_, err = l.ReadContext(ctx, p, remote.Ref{ID: 1})
	assert.ErrorIs(t, err, remote.ErrStale)
}

func TestContinuation(t *testing.T) {
	p := testutil.ParseSnapshot(t, heap)
	l := DefaultLayout()
	ctx := context.Background()

	ok, err := l.IsContinuation(ctx, p, remote.Ref{ID: 10})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.IsContinuation(ctx, p, remote.Ref{})
	require.NoError(t, err)
	assert.False(t, ok)

	elem, err := l.ResumeElement(ctx, p, remote.Ref{ID: 10})
	require.NoError(t, err)
	assert.Equal(t, remote.StackTraceElement{Class: "app.A", Method: "run"}, elem)

	_, err = l.ResumeElement(ctx, p, remote.Ref{ID: 20})
	assert.ErrorIs(t, err, ErrMismatch)

	// Malformed pairs are skipped; a trailing odd element is ignored.
	slots, err := l.SpilledSlots(ctx, p, remote.Ref{ID: 10})
	require.NoError(t, err)
	assert.Equal(t, []Slot{{Field: "L$0", Name: "user"}}, slots)

	slots, err = l.SpilledSlots(ctx, p, remote.Ref{ID: 20})
	require.NoError(t, err)
	assert.Empty(t, slots)

	next, err := l.Completion(ctx, p, remote.Ref{ID: 10})
	require.NoError(t, err)
	assert.True(t, next.IsNil())

	_, err = l.Completion(ctx, p, remote.Ref{ID: 20})
	assert.ErrorIs(t, err, ErrMismatch)
}

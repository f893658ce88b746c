package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkeytacked/nakadi/internal/coordination"
)

func TestCleanupWritesClosedFrameOnCleanExit(t *testing.T) {
	store := coordination.NewMemStore()
	out := &fakeOutput{}
	ctx := newTestContext("sub1", "s1", store, out)
	require.NoError(t, store.RegisterSession("sub1", ctx.Session))

	startLoop(ctx)
	ctx.SwitchState(&Cleanup{})

	require.Eventually(t, func() bool {
		_, ok := ctx.Current().(*Dead)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, out.closedCount())
	assert.Equal(t, 0, out.errCount())

	sessions, err := store.ListSessions("sub1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCleanupWritesErrorFrameWhenGivenOne(t *testing.T) {
	store := coordination.NewMemStore()
	out := &fakeOutput{}
	ctx := newTestContext("sub1", "s1", store, out)

	boom := errors.New("boom")
	startLoop(ctx)
	ctx.SwitchState(&Cleanup{Err: boom})

	require.Eventually(t, func() bool {
		_, ok := ctx.Current().(*Dead)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, out.errCount())
	assert.Equal(t, 0, out.closedCount())
}

func TestCleanupIdempotentOnReentry(t *testing.T) {
	store := coordination.NewMemStore()
	out := &fakeOutput{}
	ctx := newTestContext("sub1", "s1", store, out)
	require.NoError(t, store.RegisterSession("sub1", ctx.Session))

	// Every real call site constructs a fresh *Cleanup (runSwitch, the
	// shutdown hook, the closing deadline task); the idempotency guard must
	// therefore live on Context, not on a single Cleanup instance.
	first := &Cleanup{}
	first.SetContext(ctx)
	require.NoError(t, first.OnEnter())

	second := &Cleanup{Err: errors.New("late second cleanup")}
	second.SetContext(ctx)
	require.NoError(t, second.OnEnter())

	assert.Equal(t, 1, out.closedCount())
	assert.Equal(t, 0, out.errCount())

	sessions, err := store.ListSessions("sub1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkeytacked/nakadi/internal/coordination"
	"github.com/rkeytacked/nakadi/internal/topology"
)

func TestStartingSwitchesToStreamingOncePartitionAssigned(t *testing.T) {
	store := coordination.NewMemStore()
	out := &fakeOutput{}
	ctx := newTestContext("sub1", "s1", store, out)

	startLoop(ctx)
	ctx.SwitchState(&Starting{})

	require.Eventually(t, func() bool {
		sessions, err := store.ListSessions("sub1")
		return err == nil && len(sessions) == 1
	}, time.Second, 5*time.Millisecond)

	store.SetTopology("sub1", topology.Topology{Partitions: []topology.Partition{
		{Key: keyA(), Session: "s1", State: topology.Assigned},
	}})

	require.Eventually(t, func() bool {
		_, ok := ctx.Current().(*Streaming)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.True(t, ctx.ConnectionReady())
}

func TestStartingClosesListenersOnExit(t *testing.T) {
	store := coordination.NewMemStore()
	out := &fakeOutput{}
	ctx := newTestContext("sub1", "s1", store, out)

	starting := &Starting{}
	starting.SetContext(ctx)
	require.NoError(t, starting.OnEnter())

	require.NotNil(t, starting.sessionListListener)
	require.NotNil(t, starting.topologyListener)
	require.NotNil(t, starting.authCloser)

	starting.OnExit()

	assert.Nil(t, starting.sessionListListener)
	assert.Nil(t, starting.topologyListener)
	assert.Nil(t, starting.authCloser)
}

func TestContextStreamReachesStreamingThenCleanShutdown(t *testing.T) {
	store := coordination.NewMemStore()
	out := &fakeOutput{}
	ctx := newTestContext("sub1", "s1", store, out)

	done := make(chan struct{})
	go func() {
		ctx.Stream(context.Background())
		close(done)
	}()

	store.SetTopology("sub1", topology.Topology{Partitions: []topology.Partition{
		{Key: keyA(), Session: "s1", State: topology.Assigned},
	}})

	require.Eventually(t, func() bool {
		_, ok := ctx.Current().(*Streaming)
		return ok
	}, time.Second, 5*time.Millisecond)

	ctx.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after Shutdown")
	}
	assert.Equal(t, 1, out.closedCount())
}

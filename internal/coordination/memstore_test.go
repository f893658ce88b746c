package coordination

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkeytacked/nakadi/internal/topology"
)

const subID = "sub-1"

func TestMemStoreTopologyWatchFires(t *testing.T) {
	s := NewMemStore()
	fired := make(chan struct{}, 1)

	handle, err := s.SubscribeForTopologyChanges(subID, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer handle.Close()

	s.SetTopology(subID, topology.Topology{Partitions: []topology.Partition{
		{Key: topology.EventTypePartition{EventType: "orders", Partition: "0"}, Session: "s1", State: topology.Assigned},
	}})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("topology watch did not fire")
	}

	top, err := handle.Refresh()
	require.NoError(t, err)
	assert.Len(t, top.(topology.Topology).Partitions, 1)
}

func TestMemStoreOffsetWatchIgnoredAfterClose(t *testing.T) {
	s := NewMemStore()
	key := topology.EventTypePartition{EventType: "orders", Partition: "0"}
	fired := make(chan struct{}, 1)

	handle, err := s.SubscribeForOffsetChanges(subID, key, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	require.NoError(t, handle.Close())
	s.SetOffset(subID, key, "42")

	select {
	case <-fired:
		t.Fatal("closed listener should not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemStoreTransferUnassignsPartition(t *testing.T) {
	s := NewMemStore()
	key := topology.EventTypePartition{EventType: "orders", Partition: "0"}
	s.SetTopology(subID, topology.Topology{Partitions: []topology.Partition{
		{Key: key, Session: "s1", State: topology.Reassigning},
	}})

	err := s.RunLocked(subID, func() error {
		return s.Transfer(subID, "s1", []topology.EventTypePartition{key})
	})
	require.NoError(t, err)

	top, err := s.ListPartitions(subID)
	require.NoError(t, err)
	require.Len(t, top.Partitions, 1)
	assert.Equal(t, topology.Unassigned, top.Partitions[0].State)
	assert.Empty(t, top.Partitions[0].Session)

	want := []topology.Partition{{Key: key, Session: "", State: topology.Unassigned}}
	if diff := cmp.Diff(want, top.Partitions); diff != "" {
		t.Errorf("unexpected partition records after transfer (-want +got):\n%s\nfull snapshot: %s",
			diff, spew.Sdump(top))
	}
}

func TestMemStoreSessionRegistration(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.RegisterSession(subID, topology.Session{ID: "s1"}))
	sessions, err := s.ListSessions(subID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, s.UnregisterSession(subID, "s1"))
	sessions, err = s.ListSessions(subID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

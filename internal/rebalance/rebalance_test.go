package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkeytacked/nakadi/internal/topology"
)

func TestRoundRobinAssignsUnassignedPartitions(t *testing.T) {
	sessions := []topology.Session{{ID: "s1"}, {ID: "s2"}}
	current := topology.Topology{Partitions: []topology.Partition{
		{Key: topology.EventTypePartition{EventType: "orders", Partition: "0"}, State: topology.Unassigned},
		{Key: topology.EventTypePartition{EventType: "orders", Partition: "1"}, State: topology.Unassigned},
	}}

	changes := RoundRobin{}.Plan(sessions, current)
	require.Len(t, changes, 2)
	assert.NotEqual(t, changes[0].Session, changes[1].Session)
	for _, c := range changes {
		assert.Equal(t, topology.Assigned, c.State)
	}
}

func TestRoundRobinLeavesCorrectAssignmentsAlone(t *testing.T) {
	sessions := []topology.Session{{ID: "s1"}, {ID: "s2"}}
	key := topology.EventTypePartition{EventType: "orders", Partition: "0"}
	current := topology.Topology{Partitions: []topology.Partition{
		{Key: key, Session: "s1", State: topology.Assigned},
	}}

	changes := RoundRobin{}.Plan(sessions, current)
	assert.Empty(t, changes)
}

func TestRoundRobinReassignsOrphanedPartition(t *testing.T) {
	sessions := []topology.Session{{ID: "s1"}}
	key := topology.EventTypePartition{EventType: "orders", Partition: "0"}
	current := topology.Topology{Partitions: []topology.Partition{
		{Key: key, Session: "gone", State: topology.Assigned},
	}}

	changes := RoundRobin{}.Plan(sessions, current)
	require.Len(t, changes, 1)
	assert.Equal(t, topology.SessionID("s1"), changes[0].Session)
}

func TestRoundRobinNoSessionsNoChanges(t *testing.T) {
	current := topology.Topology{Partitions: []topology.Partition{
		{Key: topology.EventTypePartition{EventType: "orders", Partition: "0"}, State: topology.Unassigned},
	}}
	assert.Nil(t, RoundRobin{}.Plan(nil, current))
}

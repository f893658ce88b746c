// Package coordination is the C1 component of the session core: an abstract
// interface over a hierarchical watched store (session registry, partition
// topology, per-partition committed offsets, global lock), plus a real
// ZooKeeper-backed implementation and an in-memory fake for tests.
package coordination

import (
	"github.com/rkeytacked/nakadi/internal/topology"
)

// PartitionChange is one entry of the batch written by
// UpdatePartitionsConfiguration.
type PartitionChange struct {
	Key     topology.EventTypePartition
	Session topology.SessionID
	State   topology.PartitionState
}

// ListenerHandle is a subscription to a watched coordination-store node.
// Refresh re-arms the watch and re-reads the latest value atomically.
// Close is idempotent and releases the watch.
type ListenerHandle interface {
	Refresh() (any, error)
	Close() error
}

// TopologyHandler is invoked exactly once per topology version seen, on an
// unspecified goroutine. Implementations must do nothing but enqueue a task.
type TopologyHandler func()

// OffsetHandler is the per-partition analogue of TopologyHandler.
type OffsetHandler func()

// SessionListHandler fires whenever the session membership list changes.
type SessionListHandler func()

// Store is the contract the session core consumes from the coordination
// backend, exactly as named in spec.md §4.1.
type Store interface {
	SubscribeForTopologyChanges(subscriptionID string, handler TopologyHandler) (ListenerHandle, error)
	SubscribeForOffsetChanges(subscriptionID string, key topology.EventTypePartition, handler OffsetHandler) (ListenerHandle, error)
	SubscribeForSessionListChanges(subscriptionID string, handler SessionListHandler) (ListenerHandle, error)

	GetOffset(subscriptionID string, key topology.EventTypePartition) (string, error)

	RegisterSession(subscriptionID string, session topology.Session) error
	UnregisterSession(subscriptionID string, sessionID topology.SessionID) error

	ListSessions(subscriptionID string) ([]topology.Session, error)
	ListPartitions(subscriptionID string) (topology.Topology, error)

	UpdatePartitionsConfiguration(subscriptionID string, changes []PartitionChange) error

	// Transfer atomically moves the listed partitions out of fromSession,
	// marking them for reassignment to any eligible session.
	Transfer(subscriptionID string, fromSession topology.SessionID, keys []topology.EventTypePartition) error

	// RunLocked executes action while holding the subscription-global
	// coordination lock. It fails if the lock cannot be acquired.
	RunLocked(subscriptionID string, action func() error) error
}

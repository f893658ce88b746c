// Package rebalance defines the interface by which the session core invokes
// the rebalancing algorithm, plus one reference implementation. Per spec.md
// §1 the algorithm itself is out of scope; StreamingContext only ever calls
// Plan through this interface.
package rebalance

import (
	"sort"

	"github.com/rkeytacked/nakadi/internal/coordination"
	"github.com/rkeytacked/nakadi/internal/topology"
)

// Rebalancer computes a new partition assignment given the current session
// list and partition topology. It must not mutate its inputs.
type Rebalancer interface {
	Plan(sessions []topology.Session, current topology.Topology) []coordination.PartitionChange
}

// RoundRobin is a reference Rebalancer that spreads partitions evenly across
// registered sessions, ordered by EventTypePartition for determinism. It
// only reassigns UNASSIGNED partitions and partitions belonging to sessions
// no longer present in the session list; it never moves a partition that is
// already correctly assigned, to avoid needless churn.
type RoundRobin struct{}

func (RoundRobin) Plan(sessions []topology.Session, current topology.Topology) []coordination.PartitionChange {
	if len(sessions) == 0 {
		return nil
	}

	live := make(map[topology.SessionID]bool, len(sessions))
	for _, s := range sessions {
		live[s.ID] = true
	}

	partitions := append([]topology.Partition(nil), current.Partitions...)
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Key.Compare(partitions[j].Key) < 0
	})

	load := make(map[topology.SessionID]int, len(sessions))
	var needsAssignment []topology.Partition
	for _, p := range partitions {
		if (p.State == topology.Assigned || p.State == topology.Reassigning) && live[p.Session] {
			load[p.Session]++
			continue
		}
		needsAssignment = append(needsAssignment, p)
	}

	sessionOrder := make([]topology.SessionID, 0, len(sessions))
	for _, s := range sessions {
		sessionOrder = append(sessionOrder, s.ID)
	}
	sort.Slice(sessionOrder, func(i, j int) bool { return sessionOrder[i] < sessionOrder[j] })

	var changes []coordination.PartitionChange
	for _, p := range needsAssignment {
		target := leastLoaded(sessionOrder, load)
		load[target]++
		changes = append(changes, coordination.PartitionChange{
			Key:     p.Key,
			Session: target,
			State:   topology.Assigned,
		})
	}
	return changes
}

func leastLoaded(order []topology.SessionID, load map[topology.SessionID]int) topology.SessionID {
	best := order[0]
	for _, sid := range order[1:] {
		if load[sid] < load[best] {
			best = sid
		}
	}
	return best
}

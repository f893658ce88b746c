// Package topology holds the identity and ordering types shared by the
// coordination client and the session state machine: partition keys, cursors,
// the topology snapshot, and session records.
package topology

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// EventTypePartition identifies a single partition of a single event type.
// It is totally ordered lexicographically by EventType then Partition.
type EventTypePartition struct {
	EventType string
	Partition string
}

// Compare returns -1, 0 or 1 the way a sort.Interface comparator would.
func (k EventTypePartition) Compare(other EventTypePartition) int {
	if k.EventType != other.EventType {
		if k.EventType < other.EventType {
			return -1
		}
		return 1
	}
	if k.Partition == other.Partition {
		return 0
	}
	if k.Partition < other.Partition {
		return -1
	}
	return 1
}

func (k EventTypePartition) String() string {
	return k.EventType + ":" + k.Partition
}

// SessionID is the opaque, cluster-unique identity of a client session.
type SessionID string

// NewSessionID generates a cluster-unique session identity. Callers that
// already have an externally-assigned id (e.g. one carried over from an
// earlier connection attempt) should use that instead.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// PartitionState is the lifecycle state of a partition record in the
// coordination store.
type PartitionState uint8

const (
	Unassigned PartitionState = iota
	Assigned
	Reassigning
)

func (s PartitionState) String() string {
	switch s {
	case Assigned:
		return "ASSIGNED"
	case Reassigning:
		return "REASSIGNING"
	case Unassigned:
		return "UNASSIGNED"
	default:
		return "UNKNOWN"
	}
}

// Partition is a single assignment record as read from the coordination store.
type Partition struct {
	Key     EventTypePartition
	Session SessionID
	State   PartitionState
}

// Topology is a full snapshot of a subscription's partition assignments at a
// monotonic version.
type Topology struct {
	Version    uint64
	Partitions []Partition
}

// OwnedBy returns the partitions in this snapshot whose Session equals sid,
// sorted by EventTypePartition so callers iterate deterministically. Only
// ASSIGNED and REASSIGNING records are meaningful to a session (UNASSIGNED
// records for our own session cannot exist by construction); this filters
// those out too.
func (t Topology) OwnedBy(sid SessionID) []Partition {
	out := make([]Partition, 0, len(t.Partitions))
	for _, p := range t.Partitions {
		if p.Session != sid {
			continue
		}
		if p.State != Assigned && p.State != Reassigning {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Compare(out[j].Key) < 0
	})
	return out
}

// Session is a connected client stream's identity plus the parameters that
// govern its lifecycle.
type Session struct {
	ID              SessionID
	StreamLimits    StreamLimits
	CommitTimeoutMS int64
}

// StreamLimits bounds how much a session may be sent per poll cycle; the
// poll/read path itself is out of scope here, this is just the shape Starting
// and Streaming carry around.
type StreamLimits struct {
	MaxUncommittedEvents int
	BatchLimit           int
}

// NakadiCursor is an opaque, totally-ordered-per-partition offset position.
// Cursors from different partitions are not comparable; Compare panics with a
// ProgrammerError-shaped message if asked to do so, since that indicates a
// caller bug rather than a runtime condition to recover from.
type NakadiCursor struct {
	Partition EventTypePartition
	Offset    int64
	raw       string
}

// Compare returns -1, 0 or 1 comparing c to other's offset within the same
// partition.
func (c NakadiCursor) Compare(other NakadiCursor) int {
	if c.Partition != other.Partition {
		panic(fmt.Sprintf("nakadi: compared cursors from different partitions: %s vs %s", c.Partition, other.Partition))
	}
	switch {
	case c.Offset < other.Offset:
		return -1
	case c.Offset > other.Offset:
		return 1
	default:
		return 0
	}
}

func (c NakadiCursor) String() string {
	if c.raw != "" {
		return c.raw
	}
	return strconv.FormatInt(c.Offset, 10)
}

// CursorConverter turns a raw offset string read from the coordination store
// into a NakadiCursor. The real encoding used by a given event-storage backend
// is out of scope for this core; this is the seam external callers plug into.
type CursorConverter interface {
	Convert(key EventTypePartition, raw string) (NakadiCursor, error)
}

// SimpleCursorConverter treats the raw offset as a base-10 integer. It is a
// reference implementation sufficient for tests and for backends whose
// offsets are already plain integers; production backends with structured
// offsets supply their own CursorConverter.
type SimpleCursorConverter struct{}

func (SimpleCursorConverter) Convert(key EventTypePartition, raw string) (NakadiCursor, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return NakadiCursor{}, fmt.Errorf("parse offset %q for %s: %w", raw, key, err)
	}
	return NakadiCursor{Partition: key, Offset: n, raw: raw}, nil
}

package session

import (
	"sync"
	"time"

	"github.com/rkeytacked/nakadi/internal/topology"
)

// Streaming is the normal serving state. The event-delivery path itself is
// out of scope (spec.md §1); what matters here is the bookkeeping Closing
// depends on: the uncommitted-offsets map and the last-commit timestamp,
// plus the trigger to leave for Closing.
type Streaming struct {
	ctx *Context

	mu                 sync.Mutex
	uncommittedOffsets map[topology.EventTypePartition]topology.NakadiCursor
	lastCommitTs       time.Time
}

// NewStreaming constructs a fresh Streaming state with no outstanding sends.
func NewStreaming() *Streaming {
	return &Streaming{
		uncommittedOffsets: make(map[topology.EventTypePartition]topology.NakadiCursor),
		lastCommitTs:       time.Now(),
	}
}

func (s *Streaming) SetContext(ctx *Context) { s.ctx = ctx }
func (s *Streaming) Name() string            { return "streaming" }

func (s *Streaming) OnEnter() error {
	s.ctx.Metrics.SetUncommittedPartitions(0)
	return nil
}

func (s *Streaming) OnExit() {}

// RecordSent marks cursor as streamed to the client but not yet committed.
// Called from the (out-of-scope) delivery path each time a batch is flushed.
func (s *Streaming) RecordSent(cursor topology.NakadiCursor) {
	s.mu.Lock()
	s.uncommittedOffsets[cursor.Partition] = cursor
	s.mu.Unlock()
	s.ctx.Metrics.SetUncommittedPartitions(s.uncommittedCount())
}

// RecordCommitted clears key from the uncommitted map and refreshes
// last_commit_ts. Called when the coordination store observes a commit for
// one of this session's partitions.
func (s *Streaming) RecordCommitted(key topology.EventTypePartition) {
	s.mu.Lock()
	delete(s.uncommittedOffsets, key)
	s.lastCommitTs = time.Now()
	s.mu.Unlock()
	s.ctx.Metrics.SetUncommittedPartitions(s.uncommittedCount())
}

func (s *Streaming) uncommittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uncommittedOffsets)
}

// uncommittedOffsetsSupplier is the snapshot ClosingState takes on entry
// (spec.md §4.5 "uncommitted_offsets ← supplier()").
func (s *Streaming) uncommittedOffsetsSupplier() map[topology.EventTypePartition]topology.NakadiCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[topology.EventTypePartition]topology.NakadiCursor, len(s.uncommittedOffsets))
	for k, v := range s.uncommittedOffsets {
		snapshot[k] = v
	}
	return snapshot
}

func (s *Streaming) lastCommitSupplier() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommitTs
}

// Close is the trigger named in spec.md §4.6: "when a shutdown or error
// condition occurs, it switches to Closing." Out-of-scope delivery code calls
// this from a task. The shutdown hook installed by Context.Stream does not
// call it; that hook switches straight to Cleanup.
func (s *Streaming) Close() {
	s.ctx.SwitchState(NewClosing(s.uncommittedOffsetsSupplier(), s.lastCommitSupplier()))
}

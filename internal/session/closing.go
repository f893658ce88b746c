package session

import (
	"time"

	"github.com/rkeytacked/nakadi/internal/coordination"
	"github.com/rkeytacked/nakadi/internal/streamerr"
	"github.com/rkeytacked/nakadi/internal/topology"
)

// Closing implements the deadline-bounded partition handoff protocol
// (spec.md §4.5), the hardest part of this core. It waits, up to a deadline,
// for the client to commit its outstanding cursors before releasing
// partitions, reacting live to topology and offset changes.
type Closing struct {
	ctx *Context

	uncommittedOffsets map[topology.EventTypePartition]topology.NakadiCursor
	lastCommitTs       time.Time

	topologyListener coordination.ListenerHandle
	listeners        map[topology.EventTypePartition]coordination.ListenerHandle

	cancelDeadline func()
}

// NewClosing snapshots the Streaming state's uncommitted offsets and last
// commit time, per "State on entry" in spec.md §4.5.
func NewClosing(uncommittedOffsets map[topology.EventTypePartition]topology.NakadiCursor, lastCommitTs time.Time) *Closing {
	return &Closing{
		uncommittedOffsets: uncommittedOffsets,
		lastCommitTs:       lastCommitTs,
		listeners:          make(map[topology.EventTypePartition]coordination.ListenerHandle),
	}
}

func (s *Closing) SetContext(ctx *Context) { s.ctx = ctx }
func (s *Closing) Name() string            { return "closing" }

func (s *Closing) OnEnter() error {
	c := s.ctx

	timeToWait := time.Duration(c.Session.CommitTimeoutMS)*time.Millisecond - time.Since(s.lastCommitTs)
	if timeToWait < 0 {
		timeToWait = 0
	}

	if len(s.uncommittedOffsets) == 0 || timeToWait <= 0 {
		// Deadline already expired: release whatever is still uncommitted
		// right away instead of waiting on it.
		pending := make([]topology.EventTypePartition, 0, len(s.uncommittedOffsets))
		for key := range s.uncommittedOffsets {
			pending = append(pending, key)
		}
		if err := s.freePartitions(pending); err != nil {
			return err
		}
		c.SwitchState(&Cleanup{})
		return nil
	}

	s.cancelDeadline = c.ScheduleTask(func() error {
		c.Metrics.IncClosingDeadlineHit()
		c.SwitchState(&Cleanup{})
		return nil
	}, timeToWait)

	listener, err := c.Store.SubscribeForTopologyChanges(c.SubscriptionID, func() {
		c.AddTask(s.reactOnTopologyChange)
	})
	if err != nil {
		c.SwitchState(&Cleanup{Err: streamerr.NewCoordinationError("subscribe_topology", err)})
		return nil
	}
	s.topologyListener = listener

	return s.reactOnTopologyChange()
}

// reactOnTopologyChange snapshots the current topology (which re-arms the
// watch), partitions reactions into free-right-now / add-listeners per
// spec.md §4.5, then applies them in the documented order: free, then
// register, then try to complete.
func (s *Closing) reactOnTopologyChange() error {
	c := s.ctx
	if s.topologyListener == nil {
		return streamerr.NewProgrammerError("react_on_topology_change called with no topology listener")
	}

	data, err := s.topologyListener.Refresh()
	if err != nil {
		return streamerr.NewCoordinationError("refresh_topology", err)
	}
	top, ok := data.(topology.Topology)
	if !ok {
		return streamerr.NewProgrammerError("topology listener refresh returned unexpected type")
	}

	owned := make(map[topology.EventTypePartition]topology.Partition)
	for _, p := range top.Partitions {
		if p.Session == c.Session.ID {
			owned[p.Key] = p
		}
	}

	var freeRightNow []topology.EventTypePartition
	var addListeners []topology.EventTypePartition

	for key, p := range owned {
		switch p.State {
		case topology.Reassigning:
			if _, ok := s.uncommittedOffsets[key]; !ok {
				freeRightNow = append(freeRightNow, key)
			} else if _, has := s.listeners[key]; !has {
				addListeners = append(addListeners, key)
			}
		case topology.Assigned:
			if _, ok := s.uncommittedOffsets[key]; ok {
				if _, has := s.listeners[key]; !has {
					addListeners = append(addListeners, key)
				}
			}
		}
	}

	for key := range s.uncommittedOffsets {
		if _, stillOwned := owned[key]; !stillOwned {
			freeRightNow = append(freeRightNow, key)
		}
	}

	if err := s.freePartitions(freeRightNow); err != nil {
		return err
	}
	for _, key := range addListeners {
		if err := s.registerListener(key); err != nil {
			return err
		}
	}
	return s.tryCompleteState()
}

// registerListener subscribes to offset changes for key and immediately
// evaluates the current value, per spec.md §4.5.
func (s *Closing) registerListener(key topology.EventTypePartition) error {
	c := s.ctx
	listener, err := c.Store.SubscribeForOffsetChanges(c.SubscriptionID, key, func() {
		c.AddTask(func() error { return s.offsetChanged(key) })
	})
	if err != nil {
		return streamerr.NewCoordinationError("subscribe_offset", err)
	}
	s.listeners[key] = listener
	c.Metrics.SetListenersActive(len(s.listeners))
	return s.reactOnOffset(key)
}

// offsetChanged re-arms the listener for key and reacts to it. A key already
// freed is ignored (P8: idempotent, no store read for a freed key).
func (s *Closing) offsetChanged(key topology.EventTypePartition) error {
	if _, ok := s.listeners[key]; !ok {
		return nil
	}
	if _, err := s.listeners[key].Refresh(); err != nil {
		return streamerr.NewCoordinationError("refresh_offset", err)
	}
	return s.reactOnOffset(key)
}

// reactOnOffset reads key's committed offset and frees it once the commit
// has caught up to the session's streamed position.
func (s *Closing) reactOnOffset(key topology.EventTypePartition) error {
	c := s.ctx
	want, ok := s.uncommittedOffsets[key]
	if !ok {
		return nil
	}

	raw, err := c.Store.GetOffset(c.SubscriptionID, key)
	if err != nil {
		return streamerr.NewCoordinationError("get_offset", err)
	}
	if raw == "" {
		// No offset has been committed for key yet, so it cannot have caught
		// up; keep waiting for the next offset change.
		return s.tryCompleteState()
	}
	cursor, err := c.Converter.Convert(key, raw)
	if err != nil {
		return streamerr.NewParseError(raw, err)
	}

	if want.Compare(cursor) <= 0 {
		if err := s.freePartitions([]topology.EventTypePartition{key}); err != nil {
			return err
		}
	}
	return s.tryCompleteState()
}

// tryCompleteState switches to Cleanup once every outstanding offset has
// been freed (I5: within one task dispatch of becoming empty).
func (s *Closing) tryCompleteState() error {
	if len(s.uncommittedOffsets) == 0 {
		s.ctx.SwitchState(&Cleanup{})
	}
	return nil
}

// freePartitions drops keys from uncommittedOffsets and their listeners
// (closing each, remembering the first error per I3/ListenerCancelError
// policy), then atomically transfers them away under the coordination lock
// (P7). The remembered listener-close error, if any, is returned last so the
// loop's generic handler promotes it to Cleanup.
func (s *Closing) freePartitions(keys []topology.EventTypePartition) error {
	if len(keys) == 0 {
		return nil
	}
	c := s.ctx

	var firstErr streamerr.FirstError
	for _, key := range keys {
		delete(s.uncommittedOffsets, key)
		if listener, ok := s.listeners[key]; ok {
			delete(s.listeners, key)
			if err := listener.Close(); err != nil {
				firstErr.Record(streamerr.NewListenerCancelError(key.String(), err))
			}
		}
	}
	c.Metrics.SetUncommittedPartitions(len(s.uncommittedOffsets))
	c.Metrics.SetListenersActive(len(s.listeners))

	transferErr := c.Store.RunLocked(c.SubscriptionID, func() error {
		return c.Store.Transfer(c.SubscriptionID, c.Session.ID, keys)
	})
	if transferErr != nil {
		return streamerr.NewCoordinationError("transfer", transferErr)
	}

	return firstErr.Err()
}

// OnExit releases every remaining listener and the topology watch,
// best-effort, never propagating an error (I3).
func (s *Closing) OnExit() {
	if s.cancelDeadline != nil {
		s.cancelDeadline()
		s.cancelDeadline = nil
	}

	remaining := make([]topology.EventTypePartition, 0, len(s.listeners))
	for key := range s.listeners {
		remaining = append(remaining, key)
	}
	if err := s.freePartitions(remaining); err != nil {
		s.ctx.Logger.Warn().Err(err).Msg("error freeing partitions on closing exit")
	}

	closeListener(s.ctx, "topology(closing)", s.topologyListener)
	s.topologyListener = nil
}

package session

import (
	"io"

	"github.com/rkeytacked/nakadi/internal/coordination"
	"github.com/rkeytacked/nakadi/internal/streamerr"
)

// Starting registers the session, installs the session-list watch (which
// triggers rebalance), subscribes to authorization changes, and transitions
// to Streaming once at least one partition has been assigned to this
// session. Per spec.md §4.3 ("owns its transient subscriptions"), every
// listener it opens is a field on Starting itself, closed in OnExit.
type Starting struct {
	ctx *Context

	sessionListListener coordination.ListenerHandle
	topologyListener    coordination.ListenerHandle
	authCloser          io.Closer
}

func (s *Starting) SetContext(ctx *Context) { s.ctx = ctx }
func (s *Starting) Name() string            { return "starting" }

func (s *Starting) OnEnter() error {
	c := s.ctx
	if err := c.Store.RegisterSession(c.SubscriptionID, c.Session); err != nil {
		return streamerr.NewCoordinationError("register_session", err)
	}

	listListener, err := c.Store.SubscribeForSessionListChanges(c.SubscriptionID, func() {
		c.AddTask(func() error {
			return c.Rebalance()
		})
	})
	if err != nil {
		return streamerr.NewCoordinationError("subscribe_session_list", err)
	}
	s.sessionListListener = listListener

	topoListener, err := c.Store.SubscribeForTopologyChanges(c.SubscriptionID, func() {
		c.AddTask(s.checkAssigned)
	})
	if err != nil {
		return streamerr.NewCoordinationError("subscribe_topology", err)
	}
	s.topologyListener = topoListener

	watcher := c.AuthWatcher
	if watcher == nil {
		watcher = NoopAuthorizationWatcher{}
	}
	authCloser, err := watcher.Subscribe(func(err error) {
		c.AddTask(func() error {
			if err != nil {
				return streamerr.NewAuthorizationError(err)
			}
			return nil
		})
	})
	if err != nil {
		return streamerr.NewAuthorizationError(err)
	}
	s.authCloser = authCloser

	// Kick an immediate rebalance so a freshly-started session doesn't sit
	// idle until the next organic session-list change.
	c.AddTask(func() error { return c.Rebalance() })

	return s.checkAssigned()
}

// checkAssigned reads the current topology and, if this session already owns
// at least one partition, switches to Streaming.
func (s *Starting) checkAssigned() error {
	c := s.ctx
	top, err := c.Store.ListPartitions(c.SubscriptionID)
	if err != nil {
		return streamerr.NewCoordinationError("list_partitions", err)
	}
	if len(top.OwnedBy(c.Session.ID)) == 0 {
		return nil
	}
	c.SetConnectionReady(true)
	c.SwitchState(NewStreaming())
	return nil
}

func (s *Starting) OnExit() {
	closeListener(s.ctx, "session_list", s.sessionListListener)
	s.sessionListListener = nil
	closeListener(s.ctx, "topology(starting)", s.topologyListener)
	s.topologyListener = nil
	if s.authCloser != nil {
		if err := s.authCloser.Close(); err != nil {
			s.ctx.Logger.Warn().Err(err).Msg("failed to close authorization watch")
		}
		s.authCloser = nil
	}
}

// closeListener closes l if non-nil, logging (never propagating) any error,
// per I3.
func closeListener(c *Context, label string, l coordination.ListenerHandle) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		c.Logger.Warn().Err(err).Str("listener", label).Msg("failed to close listener")
	}
}

package session

// Cleanup unregisters the session, writes a terminal frame, and transitions
// to Dead. It closes no listeners itself: each state closes the listeners it
// owns in its OnExit, which the coordinator runs before Cleanup's OnEnter.
// Safe to enter from any other state and from itself (spec.md §4.6).
type Cleanup struct {
	ctx *Context

	// Err is the first fatal error that drove this transition, if any. A nil
	// Err means a clean close.
	Err error
}

func (s *Cleanup) SetContext(ctx *Context) { s.ctx = ctx }
func (s *Cleanup) Name() string            { return "cleanup" }

func (s *Cleanup) OnEnter() error {
	c := s.ctx
	if c.cleanedUp {
		// Re-entered from a stale deadline task, a shutdown hook firing after
		// the session already reached Dead, or a second error racing the
		// first cleanup (§4.5 "harmless because Cleanup is idempotent against
		// Cleanup"). The flag lives on Context, not this instance, because
		// every call site constructs a fresh *Cleanup.
		c.SwitchState(&Dead{})
		return nil
	}
	c.cleanedUp = true

	if err := c.Store.UnregisterSession(c.SubscriptionID, c.Session.ID); err != nil {
		c.Logger.Warn().Err(err).Msg("failed to unregister session during cleanup")
	}

	if s.Err != nil {
		if err := c.Output.WriteError(s.Err); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to write terminal error frame")
		}
	} else {
		if err := c.Output.WriteClosed(); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to write terminal closed frame")
		}
	}

	c.SwitchState(&Dead{})
	return nil
}

func (s *Cleanup) OnExit() {}

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	nconfig "github.com/rkeytacked/nakadi/internal/config"
	"github.com/rkeytacked/nakadi/internal/coordination"
	"github.com/rkeytacked/nakadi/internal/logging"
	"github.com/rkeytacked/nakadi/internal/metrics"
	"github.com/rkeytacked/nakadi/internal/rebalance"
	"github.com/rkeytacked/nakadi/internal/shutdown"
	"github.com/rkeytacked/nakadi/internal/streamerr"
	"github.com/rkeytacked/nakadi/internal/taskqueue"
	"github.com/rkeytacked/nakadi/internal/topology"
)

// Context is the StreamingContext coordinator (C4): it holds the current
// state, drives the task loop, and exposes the primitives states need
// (AddTask, ScheduleTask, SwitchState) plus access to shared services.
//
// Every field below is mutated only on the task-loop goroutine (I1); the
// mutex exists solely so tests can peek at Current() from outside that
// goroutine without a data race, not to allow concurrent mutation.
type Context struct {
	SubscriptionID string
	Session        topology.Session

	Store      coordination.Store
	Converter  topology.CursorConverter
	Rebalancer rebalance.Rebalancer
	Output     ClientStreamOutput
	Config     nconfig.Config

	Metrics *metrics.Session
	Logger  zerolog.Logger

	queue *taskqueue.Queue
	hooks *shutdown.Registry

	mu      sync.Mutex
	current State

	// cleanedUp is set the first time Cleanup.OnEnter actually runs its
	// unregister-and-terminal-frame work. It lives here rather than on the
	// Cleanup state instance because every SwitchState(&Cleanup{...}) call
	// site constructs a fresh instance; a flag on the instance could never
	// observe a prior run. Guards against a second Cleanup entry (shutdown
	// hook firing after Dead, or a closing deadline task racing past its own
	// cancellation) writing a second terminal frame (spec.md §7, P3).
	cleanedUp bool

	// AuthWatcher is the external collaborator for authorization-change
	// notifications (spec.md §7: "AuthorizationError ... surfaced by a task
	// enqueued from the authorization watch"). Authorization validation
	// itself is out of scope (spec.md §1); this is only the watch.
	AuthWatcher AuthorizationWatcher

	connectionReady atomic.Bool
}

// NewContext constructs a Context ready to Stream. Every dependency is used
// as given, without nil checks; config.Default() returns a complete Config,
// and a non-positive cfg.TaskQueueIdleTimeout falls back to one hour inside
// taskqueue.New.
func NewContext(subscriptionID string, sess topology.Session, store coordination.Store, converter topology.CursorConverter, rebalancer rebalance.Rebalancer, output ClientStreamOutput, cfg nconfig.Config) *Context {
	return &Context{
		SubscriptionID: subscriptionID,
		Session:        sess,
		Store:          store,
		Converter:      converter,
		Rebalancer:     rebalancer,
		Output:         output,
		Config:         cfg,
		Metrics:        metrics.NewSession(string(sess.ID)),
		Logger:         logging.WithSession(string(sess.ID)),
		queue:          taskqueue.New(cfg.TaskQueueIdleTimeout),
		hooks:          shutdown.NewRegistry(),
	}
}

// AddTask enqueues task, non-blocking.
func (c *Context) AddTask(task func() error) {
	c.queue.AddTask(task)
}

// ScheduleTask fires task after at least delay has elapsed.
func (c *Context) ScheduleTask(task func() error, delay time.Duration) (cancel func()) {
	return c.queue.ScheduleTask(task, delay)
}

// Current returns the presently-active state. Safe to call from any
// goroutine; see the Context doc comment.
func (c *Context) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Context) setCurrent(s State) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}

// SwitchState enqueues the state transition described in spec.md §4.4: it is
// not synchronous. The enqueued task runs the outgoing state's OnExit inside
// a catch-all (OnExit itself must never panic or error, but the coordinator
// does not trust that blindly), assigns the new current state, calls
// SetContext, then OnEnter. If OnEnter fails, the coordinator logs and
// switches to Cleanup(err) — safe, because the failed state is now current
// and its OnExit will run when that switch executes.
func (c *Context) SwitchState(next State) {
	c.AddTask(func() error {
		c.runSwitch(next)
		return nil
	})
}

func (c *Context) runSwitch(next State) {
	prev := c.Current()
	prevName := "<none>"
	if prev != nil {
		prevName = prev.Name()
		safeExit(c, prev)
	}

	c.setCurrent(next)
	next.SetContext(c)
	c.Logger.Debug().Str("from", prevName).Str("to", next.Name()).Msg("state transition")
	c.Metrics.SetState(next.Name())

	if err := next.OnEnter(); err != nil {
		c.Logger.Error().Err(err).Str("state", next.Name()).Msg("on_enter failed, forcing cleanup")
		// The failed state is already `current`; its OnExit will run
		// when this switch executes.
		c.SwitchState(&Cleanup{Err: err})
		return
	}

	if _, dead := next.(*Dead); dead {
		c.queue.Stop()
	}
}

// safeExit runs s.OnExit() with an additional panic guard: OnExit is
// documented to never propagate an error, but a defensive catch-all here
// means a bug inside a state's cleanup code can never corrupt the loop.
func safeExit(c *Context, s State) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error().Interface("panic", r).Str("state", s.Name()).Msg("on_exit panicked, suppressing")
		}
	}()
	s.OnExit()
}

// Stream is the top-level entry point: install the shutdown hook, enter
// Starting, and run the task loop until the context reaches Dead.
func (c *Context) Stream(ctx context.Context) error {
	c.hooks.AddHook(func() {
		c.SwitchState(&Cleanup{})
	})

	c.SwitchState(&Starting{})

	c.queue.Run(ctx, func(err error) {
		c.Logger.Error().Err(err).Msg("uncaught task error, forcing cleanup")
		c.SwitchState(&Cleanup{Err: err})
	})
	return nil
}

// SetConnectionReady records whether the client connection is ready to
// receive events; Starting sets it to true when it switches to Streaming.
func (c *Context) SetConnectionReady(ready bool) { c.connectionReady.Store(ready) }

func (c *Context) ConnectionReady() bool { return c.connectionReady.Load() }

// Shutdown fires every registered shutdown hook; each hook must only enqueue
// a task (spec.md §6).
func (c *Context) Shutdown() { c.hooks.Shutdown() }

// Rebalance is invoked from a task when the session-list watch fires: it
// re-reads the session list, computes a changeset under the coordination
// lock via the injected Rebalancer, and writes it. No partition-assignment
// decision is made outside the lock (spec.md §4.4, §5).
func (c *Context) Rebalance() error {
	return c.Store.RunLocked(c.SubscriptionID, func() error {
		sessions, err := c.Store.ListSessions(c.SubscriptionID)
		if err != nil {
			return streamerr.NewCoordinationError("list_sessions", err)
		}
		top, err := c.Store.ListPartitions(c.SubscriptionID)
		if err != nil {
			return streamerr.NewCoordinationError("list_partitions", err)
		}
		changes := c.Rebalancer.Plan(sessions, top)
		if len(changes) == 0 {
			return nil
		}
		if err := c.Store.UpdatePartitionsConfiguration(c.SubscriptionID, changes); err != nil {
			return streamerr.NewCoordinationError("update_partitions_configuration", err)
		}
		return nil
	})
}

// Package session implements C3-C6 of the session core: the State
// abstraction, the StreamingContext coordinator, and the Starting, Streaming,
// Closing, Cleanup and Dead states.
package session

// State is the capability set every lifecycle state implements: on_enter,
// on_exit, and set_context, per spec.md §4.3. States hold a non-owning back
// reference to their Context, installed by SetContext, rather than the
// coordinator inspecting variant internals (spec.md §9 "Dynamic dispatch over
// states").
type State interface {
	// SetContext installs the owning Context. Called by Context.SwitchState
	// before OnEnter.
	SetContext(ctx *Context)

	// OnEnter runs once, after the previous state's OnExit has completed. A
	// returned error causes the coordinator to switch to Cleanup(err).
	OnEnter() error

	// OnExit must never propagate an error: any failure inside it is caught
	// and logged by the implementation itself, and any listeners it owns are
	// closed in a best-effort finally-equivalent region so the next state
	// can always enter (spec.md §4.3, I3).
	OnExit()

	// Name identifies the state for logging and metrics.
	Name() string
}

// ClientStreamOutput is the opaque sink Streaming and Cleanup write event and
// error frames to. Its wire format is explicitly out of scope (spec.md §6);
// this is the minimal contract ClosingState's neighbors need.
type ClientStreamOutput interface {
	WriteError(err error) error
	WriteClosed() error
}

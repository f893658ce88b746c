// Package streamerr defines the error taxonomy a session's task loop knows
// how to interpret: which failures fold into Cleanup, and which are a
// programmer error that should surface verbatim in the terminal frame.
package streamerr

import "fmt"

// CoordinationError wraps any failure returned by the coordination-store
// client: connection lost, watch failed, transfer failed. The task loop
// treats every CoordinationError the same way: switch to Cleanup(err).
type CoordinationError struct {
	Op  string
	Err error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("coordination store: %s: %v", e.Op, e.Err)
}

func (e *CoordinationError) Unwrap() error { return e.Err }

func NewCoordinationError(op string, err error) *CoordinationError {
	return &CoordinationError{Op: op, Err: err}
}

// ParseError is raised by a CursorConverter that cannot make sense of a raw
// offset. Policy is identical to CoordinationError.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse offset %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func NewParseError(raw string, err error) *ParseError {
	return &ParseError{Raw: raw, Err: err}
}

// ListenerCancelError is raised by a ListenerHandle.Close call during
// free_partitions. free_partitions remembers the first one, keeps cancelling
// the rest, performs the transfer regardless, then fails the task with it so
// the loop's generic handler converts it to Cleanup. During on_exit, these
// are logged and suppressed instead.
type ListenerCancelError struct {
	Key string
	Err error
}

func (e *ListenerCancelError) Error() string {
	return fmt.Sprintf("close listener for %s: %v", e.Key, e.Err)
}

func (e *ListenerCancelError) Unwrap() error { return e.Err }

func NewListenerCancelError(key string, err error) *ListenerCancelError {
	return &ListenerCancelError{Key: key, Err: err}
}

// ProgrammerError marks an invariant violation: a state callback invoked in a
// shape that should be impossible given the code that wired it up (e.g. a
// topology-change handler firing with no listener installed). It is always
// fatal: it becomes the terminal frame written by Cleanup.
type ProgrammerError struct {
	Msg string
}

func (e *ProgrammerError) Error() string { return "programmer error: " + e.Msg }

func NewProgrammerError(msg string) *ProgrammerError {
	return &ProgrammerError{Msg: msg}
}

// AuthorizationError is surfaced by a task enqueued from the authorization
// watch. Policy is identical to CoordinationError.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

func NewAuthorizationError(err error) *AuthorizationError {
	return &AuthorizationError{Err: err}
}

// FirstError accumulates a sequence of possibly-nil errors and remembers only
// the first non-nil one, the pattern free_partitions needs: keep going after
// an individual listener.Close() fails, but still fail the overall task with
// the first error seen.
type FirstError struct {
	err error
}

// Record stores err if this is the first non-nil error seen.
func (f *FirstError) Record(err error) {
	if err != nil && f.err == nil {
		f.err = err
	}
}

// Err returns the first recorded error, or nil if none was recorded.
func (f *FirstError) Err() error { return f.err }

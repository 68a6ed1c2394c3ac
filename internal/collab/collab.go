// Package collab holds the small per-room state machines that ride on the
// broadcast relay: recording, presentation, timer and voting. They carry no
// I/O; the room actor applies a transition, persists the state and emits the
// matching events.
package collab

import "errors"

var (
	// ErrBusy means another member already owns the sub-protocol.
	ErrBusy = errors.New("already in progress")
	// ErrNotOwner means the caller did not start what it tries to stop.
	ErrNotOwner = errors.New("not started by this socket")
	// ErrInvalidTransition means the requested move is not legal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrClosed means the poll is not open or the id does not match.
	ErrClosed = errors.New("voting is closed")
)

// Package procerr defines the processor's error taxonomy as sentinel
// errors, compared with errors.Is at call sites instead of a bespoke
// exception hierarchy.
package procerr

import "errors"

var (
	// ErrInvalidArgument: malformed dialog_id, empty URI in insert.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCapacityExceeded: worker queue full, router queue full.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrNotFound: store lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrTimeout: TCP connect, heartbeat miss.
	ErrTimeout = errors.New("timeout")
	// ErrConnectionLost: socket error mid-read.
	ErrConnectionLost = errors.New("connection lost")
	// ErrParseError: XML buffer overflow, malformed frame.
	ErrParseError = errors.New("parse error")
	// ErrPersistenceError: store write/read failure.
	ErrPersistenceError = errors.New("persistence error")
	// ErrShuttingDown: any producer API invoked during stop.
	ErrShuttingDown = errors.New("shutting down")
)

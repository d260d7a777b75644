package seestar

import (
	"errors"
	"fmt"
)

// Sentinel errors independent of any request context.
var (
	// ErrNotConnected indicates an operation was attempted without a connection.
	ErrNotConnected = errors.New("seestar: not connected")

	// ErrAlreadyConnected indicates Connect was called while already connected.
	ErrAlreadyConnected = errors.New("seestar: already connected")

	// ErrClosed indicates an operation was attempted after Disconnect.
	ErrClosed = errors.New("seestar: client closed")
)

// ConnectFailedError means the transport could not establish a session at
// all: dial timeout, refused connection, or DNS failure.
type ConnectFailedError struct {
	Endpoint Endpoint
	Cause    error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("seestar: connect to %s failed: %v", e.Endpoint, e.Cause)
}

func (e *ConnectFailedError) Unwrap() error { return e.Cause }

// DisconnectedError means the transport lost its session mid-operation.
// Pending requests fail with this; the reader loop restarts on its own.
type DisconnectedError struct {
	Cause error
}

func (e *DisconnectedError) Error() string {
	if e.Cause == nil {
		return "seestar: disconnected"
	}
	return fmt.Sprintf("seestar: disconnected: %v", e.Cause)
}

func (e *DisconnectedError) Unwrap() error { return e.Cause }

// TimeoutError means a request's deadline elapsed while the transport was
// still up.
type TimeoutError struct {
	Method string
	ID     uint64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("seestar: request %d (%s) timed out", e.ID, e.Method)
}

// ProtocolError means a frame or JSON line was malformed. It never tears
// down the session; it is counted and, if it can be attributed to a
// specific request, fails that request only.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("seestar: protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("seestar: protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// CommandRejectedError carries a device-reported error verbatim.
type CommandRejectedError struct {
	Code    int
	Message string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("seestar: command rejected (code %d): %s", e.Code, e.Message)
}

// OverloadedError means a bounded queue stayed full past its timeout.
type OverloadedError struct {
	Queue string
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("seestar: %s queue overloaded", e.Queue)
}

// CancelledError means the caller (via Disconnect or context cancellation)
// aborted the request, as opposed to the network dropping it.
type CancelledError struct {
	Method string
	ID     uint64
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("seestar: request %d (%s) cancelled", e.ID, e.Method)
}

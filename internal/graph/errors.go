package graph

import (
	"errors"
	"fmt"
)

var (
	ErrUnmappedRoute     = errors.New("router returned an unmapped label")
	ErrInvalidDirective  = errors.New("node directive targets a node outside its routing table")
	ErrUnknownNode       = errors.New("unknown node")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrThreadNotFound    = errors.New("thread not found")
	// ErrThreadIDUnavailable is returned for any client-chosen thread ID that
	// cannot be used. It does not say who owns the thread or whether it is busy.
	ErrThreadIDUnavailable = errors.New("thread ID is unavailable; omit it to have one generated")
	ErrNotSuspended        = errors.New("thread is not suspended")
	ErrThreadSuspended     = errors.New("thread is suspended; resume or cancel it")
	ErrThreadBusy          = errors.New("thread has a turn in flight")
	ErrResumeKeyMismatch   = errors.New("resume key does not match the pending suspension")
)

// ProtocolError is an integration fault: a routing bug, or a call that does not
// fit the thread's current state. It is always surfaced to the caller.
type ProtocolError struct {
	Op       string
	ThreadID string
	Node     string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error: %s thread %q", e.Op, e.ThreadID)
	if e.Node != "" {
		msg += fmt.Sprintf(" at node %q", e.Node)
	}
	return msg + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// NewProtocolError wraps err for the thread-level operation op.
func NewProtocolError(op, threadID, node string, err error) *ProtocolError {
	return &ProtocolError{Op: op, ThreadID: threadID, Node: node, Err: err}
}

func protocolErr(op, threadID, node string, err error) error {
	return NewProtocolError(op, threadID, node, err)
}

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRuntimeClosed is returned by bus operations on a closed runtime.
	ErrRuntimeClosed = errors.New("runtime closed")

	// ErrSelfSend is returned when an agent sends a direct message to itself,
	// which would block its own mailbox.
	ErrSelfSend = errors.New("agent cannot send a direct message to itself")

	// ErrUnhandledMessage is returned by an agent that has no handler for the
	// delivered message kind.
	ErrUnhandledMessage = errors.New("unhandled message")
)

// DuplicateAgentError reports an attempt to register an agent identity (or an
// agent type factory) that already exists in the runtime.
type DuplicateAgentError struct {
	ID AgentID
}

func (e *DuplicateAgentError) Error() string {
	if e.ID.Key == "" {
		return fmt.Sprintf("agent type %q already registered", e.ID.Type)
	}
	return fmt.Sprintf("agent %s already registered", e.ID)
}

// UnknownRecipientError reports a direct send to an agent the runtime cannot
// resolve.
type UnknownRecipientError struct {
	ID AgentID
}

func (e *UnknownRecipientError) Error() string {
	return fmt.Sprintf("unknown recipient %s", e.ID)
}

// HandlerError wraps a failure raised by an agent handler together with the
// agent identity and handler name it came from.
type HandlerError struct {
	Agent   AgentID
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agent %s handler %s: %v", e.Agent, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError carries a recovered handler panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a session does not exist or is not visible
	// to the caller. Foreign sessions are reported as missing, never as forbidden.
	ErrNotFound = errors.New("not found")

	// ErrSessionArchived is returned when appending to an archived session.
	ErrSessionArchived = errors.New("session is archived")

	// ErrInvalidTransition is returned for a non-monotonic status change.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrTransport marks a retryable transport failure of an agent call.
	ErrTransport = errors.New("agent transport error")

	// ErrDuplicateAgent is returned when registering an id twice.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrAggregationFailure marks a task where every dispatched agent failed.
	ErrAggregationFailure = errors.New("all dispatched agents failed")
)

// ValidationError reports a rejected inbound message. No task is built and no
// agent is dispatched when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// AuthError reports missing or invalid tenant/user identity.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Reason }

// AgentTimeoutError is recorded when an agent did not settle before the
// task deadline.
type AgentTimeoutError struct {
	AgentID  string
	Deadline time.Duration
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("agent %s timed out after %s", e.AgentID, e.Deadline)
}

// AgentInvocationError wraps any other failure of an agent call.
type AgentInvocationError struct {
	AgentID  string
	Attempts int
	Err      error
}

func (e *AgentInvocationError) Error() string {
	return fmt.Sprintf("agent %s failed after %d attempt(s): %v", e.AgentID, e.Attempts, e.Err)
}

func (e *AgentInvocationError) Unwrap() error { return e.Err }

// PersistenceError wraps a memory write failure. It is logged and never
// surfaced to chat callers.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

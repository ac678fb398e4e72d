package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching. The typed errors below wrap
// these and carry the offending identifier for callers that need it.
var (
	// ErrInvalidTool indicates an unregistered tool identifier was requested.
	ErrInvalidTool = errors.New("invalid tool")
	// ErrSessionNotFound indicates the session does not exist or is not active.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConcurrentStep indicates a violation of the one-active-step invariant.
	ErrConcurrentStep = errors.New("another step is already active")
	// ErrStepNotFound indicates the step does not exist.
	ErrStepNotFound = errors.New("step not found")
)

// InvalidToolError reports a tool identifier missing from the registry.
type InvalidToolError struct {
	ToolID string
}

func (e *InvalidToolError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolID)
}

func (e *InvalidToolError) Unwrap() error { return ErrInvalidTool }

// SessionNotFoundError reports an operation against a missing or
// inactive session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found or not active", e.SessionID)
}

func (e *SessionNotFoundError) Unwrap() error { return ErrSessionNotFound }

// ConcurrentStepError reports an attempt to begin a step while another
// step in the same session is still active.
type ConcurrentStepError struct {
	SessionID    string
	ActiveStepID string
}

func (e *ConcurrentStepError) Error() string {
	return fmt.Sprintf("session %q already has active step %q", e.SessionID, e.ActiveStepID)
}

func (e *ConcurrentStepError) Unwrap() error { return ErrConcurrentStep }

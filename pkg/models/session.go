// Package models contains domain models for maestro.
package models

import (
	"time"
)

// SessionStatus represents the status of a workflow session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether the session can no longer accept steps.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// WorkflowSession represents one user task spanning one or more tool
// invocations. The step list is append-only while the session is active;
// steps are never reordered or removed.
type WorkflowSession struct {
	ID        string        `db:"id" json:"id"`
	UserID    string        `db:"user_id" json:"user_id"`
	Status    SessionStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`

	// StepIDs is the ordered list of step identifiers, insertion order.
	StepIDs []string `json:"step_ids"`

	// Steps is the full step history, populated on resume for the
	// breadcrumb view. Ordered the same as StepIDs.
	Steps []*WorkflowStep `json:"steps,omitempty"`
}

// ActiveStep returns the currently active step, or nil when none is active.
func (s *WorkflowSession) ActiveStep() *WorkflowStep {
	for _, step := range s.Steps {
		if step.Status == StepStatusActive {
			return step
		}
	}
	return nil
}

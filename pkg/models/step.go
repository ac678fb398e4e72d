package models

import "time"

// StepStatus represents the lifecycle state of a workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Terminal reports whether the step has reached a terminal state.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// Usage carries the metered cost of a single tool invocation.
type Usage struct {
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// WorkflowStep is one tool invocation within a session.
//
// Invariants:
// - at most one step per session is active at a time
// - CompletedAt is set if and only if the status is completed or failed
type WorkflowStep struct {
	ID           string     `db:"id" json:"id"`
	SessionID    string     `db:"session_id" json:"session_id"`
	ToolID       string     `db:"tool_id" json:"tool_id"`
	Action       string     `db:"action" json:"action"`
	Input        JSONMap    `db:"input" json:"input,omitempty"`
	Output       JSONMap    `db:"output" json:"output,omitempty"`
	Status       StepStatus `db:"status" json:"status"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	TokensUsed   int64      `db:"tokens_used" json:"tokens_used,omitempty"`
	CostUSD      float64    `db:"cost_usd" json:"cost_usd,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
}

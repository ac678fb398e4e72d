package models

import "time"

// EventType enumerates the telemetry event types emitted by the
// orchestration core. The set is closed: new event types must be added
// here so exhaustive switches catch missing cases.
type EventType string

const (
	EventToolInvoked           EventType = "tool_invoked"
	EventWorkflowStarted       EventType = "workflow_started"
	EventWorkflowStepCompleted EventType = "workflow_step_completed"
	EventWorkflowCompleted     EventType = "workflow_completed"
	EventWorkflowFailed        EventType = "workflow_failed"
	EventAgentHandoff          EventType = "agent_handoff"
	EventPermissionDenied      EventType = "permission_denied"
	EventContextTransferred    EventType = "context_transferred"
	EventSuggestionAccepted    EventType = "suggestion_accepted"
	EventSuggestionDismissed   EventType = "suggestion_dismissed"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventToolInvoked, EventWorkflowStarted, EventWorkflowStepCompleted,
		EventWorkflowCompleted, EventWorkflowFailed, EventAgentHandoff,
		EventPermissionDenied, EventContextTransferred,
		EventSuggestionAccepted, EventSuggestionDismissed:
		return true
	}
	return false
}

// TelemetryEvent is an immutable audit record of an orchestration-layer
// action. Events are append-only: never updated or deleted by this core.
type TelemetryEvent struct {
	ID             string    `db:"id" json:"id"`
	Type           EventType `db:"event_type" json:"event_type"`
	ToolID         string    `db:"tool_id" json:"tool_id"`
	SessionID      string    `db:"session_id" json:"session_id,omitempty"`
	ConversationID string    `db:"conversation_id" json:"conversation_id,omitempty"`
	ProjectID      string    `db:"project_id" json:"project_id,omitempty"`
	LatencyMS      int64     `db:"latency_ms" json:"latency_ms,omitempty"`
	TokensUsed     int64     `db:"tokens_used" json:"tokens_used,omitempty"`
	CostUSD        float64   `db:"cost_usd" json:"cost_usd,omitempty"`
	Success        bool      `db:"success" json:"success"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	Metadata       JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TelemetrySummary aggregates the telemetry recorded for one session.
type TelemetrySummary struct {
	SessionID       string              `json:"session_id"`
	TotalEvents     int64               `json:"total_events"`
	ToolInvocations int64               `json:"tool_invocations"`
	SuccessRate     float64             `json:"success_rate"`
	TotalLatencyMS  int64               `json:"total_latency_ms"`
	TotalTokens     int64               `json:"total_tokens"`
	TotalCostUSD    float64             `json:"total_cost_usd"`
	EventsByType    map[EventType]int64 `json:"events_by_type"`
}

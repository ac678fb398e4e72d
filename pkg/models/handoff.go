package models

import "time"

// AgentHandoff records a context-carrying transfer of control from one tool
// to another within the same session. Handoffs are immutable once created;
// a denied handoff is never persisted as an AgentHandoff (it is recorded
// only as a permission_denied telemetry event).
type AgentHandoff struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	FromTool  string    `db:"from_tool" json:"from_tool"`
	ToTool    string    `db:"to_tool" json:"to_tool"`
	Reason    string    `db:"reason" json:"reason"`
	Context   JSONMap   `db:"context" json:"context,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

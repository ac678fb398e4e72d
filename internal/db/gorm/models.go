package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/maestro/pkg/models"
)

// GORM models
//
// JSON payload columns use models.JSONMap, which implements sql.Scanner
// and driver.Valuer.

// WorkflowSession represents one user task.
type WorkflowSession struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index;not null"`
	Status    string `gorm:"type:text;check:status IN ('active', 'completed', 'abandoned');default:'active';index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index:idx_sessions_updated,sort:desc"`
}

func (WorkflowSession) TableName() string { return "workflow_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *WorkflowSession) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return nil
}

// WorkflowStep is one tool invocation. The integer primary key preserves
// insertion order within a session; StepID is the stable identifier
// handed to callers.
type WorkflowStep struct {
	ID           int64          `gorm:"primaryKey;autoIncrement"`
	StepID       string         `gorm:"uniqueIndex;size:36;not null"`
	SessionID    string         `gorm:"index;index:idx_steps_session_status,priority:1;not null"`
	ToolID       string         `gorm:"not null"`
	Action       string
	Input        models.JSONMap `gorm:"type:text"`
	Output       models.JSONMap `gorm:"type:text"`
	Status       string         `gorm:"type:text;check:status IN ('pending', 'active', 'completed', 'failed');default:'pending';index:idx_steps_session_status,priority:2"`
	StartedAt    time.Time      `gorm:"not null"`
	CompletedAt  *time.Time
	TokensUsed   int64   `gorm:"default:0"`
	CostUSD      float64 `gorm:"default:0"`
	ErrorMessage string
}

func (WorkflowStep) TableName() string { return "workflow_steps" }

// AgentHandoff is an immutable record of a granted context transfer.
type AgentHandoff struct {
	ID        string         `gorm:"primaryKey;size:36"`
	SessionID string         `gorm:"index;not null"`
	FromTool  string         `gorm:"not null"`
	ToTool    string         `gorm:"not null"`
	Reason    string
	Context   models.JSONMap `gorm:"type:text"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (AgentHandoff) TableName() string { return "agent_handoffs" }

// TelemetryEvent is an append-only audit record. The integer primary key
// preserves append order for per-session reads.
type TelemetryEvent struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	EventID        string `gorm:"uniqueIndex;size:36;not null"`
	EventType      string `gorm:"index;not null"`
	ToolID         string `gorm:"index"`
	SessionID      string `gorm:"index"`
	ConversationID string
	ProjectID      string
	LatencyMS      int64   `gorm:"default:0"`
	TokensUsed     int64   `gorm:"default:0"`
	CostUSD        float64 `gorm:"default:0"`
	Success        bool
	ErrorMessage   string
	Metadata       models.JSONMap `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"index:idx_events_created,sort:desc;not null"`
}

func (TelemetryEvent) TableName() string { return "telemetry_events" }

// QuotaState tracks per-user, per-period consumption.
type QuotaState struct {
	UserID          string    `gorm:"primaryKey"`
	Period          string    `gorm:"primaryKey;size:7"` // YYYY-MM
	TokenCeiling    int64     `gorm:"default:0"`
	CostCeilingUSD  float64   `gorm:"default:0"`
	TokensConsumed  int64     `gorm:"default:0"`
	CostConsumedUSD float64   `gorm:"default:0"`
	ResetsAt        time.Time
	OverageAllowed  bool `gorm:"default:false"`
}

func (QuotaState) TableName() string { return "quota_states" }

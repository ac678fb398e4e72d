package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/maestro/internal/privacy"
	"github.com/thebtf/maestro/internal/quota"
	"github.com/thebtf/maestro/internal/telemetry"
	"github.com/thebtf/maestro/pkg/models"
)

// Tools answers whether a tool identifier is registered.
type Tools interface {
	Has(id string) bool
}

// SessionHandle identifies a freshly started session and its initial
// pending step.
type SessionHandle struct {
	SessionID string `json:"session_id"`
	StepID    string `json:"step_id"`
}

// StepHandle identifies a step within a session.
type StepHandle struct {
	SessionID string `json:"session_id"`
	StepID    string `json:"step_id"`
}

// RunResult is the outcome of a managed invocation (Run). A quota denial
// is a routine outcome carried as data, not an error.
type RunResult struct {
	Step   StepHandle      `json:"step"`
	Output models.JSONMap  `json:"output,omitempty"`
	Usage  *models.Usage   `json:"usage,omitempty"`
	Denied *quota.Decision `json:"denied,omitempty"`
}

// Manager owns workflow session and step lifecycle. It is the only
// writer of session and step records; the handoff broker appends steps
// through it.
type Manager struct {
	store     Store
	tools     Tools
	telemetry *telemetry.Sink
	quota     *quota.Sink
	now       func() time.Time
}

// NewManager creates a session manager. The quota sink may be nil when
// metering is handled elsewhere.
func NewManager(store Store, tools Tools, sink *telemetry.Sink, quotaSink *quota.Sink) *Manager {
	return &Manager{
		store:     store,
		tools:     tools,
		telemetry: sink,
		quota:     quotaSink,
		now:       time.Now,
	}
}

// StartSession creates a new WorkflowSession with one pending step for
// initialTool. Returns InvalidToolError when initialTool is not registered.
func (m *Manager) StartSession(ctx context.Context, userID, initialTool string, input models.JSONMap) (*SessionHandle, error) {
	if !m.tools.Has(initialTool) {
		return nil, &InvalidToolError{ToolID: initialTool}
	}

	now := m.now()
	sess := &models.WorkflowSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	step := &models.WorkflowStep{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		ToolID:    initialTool,
		Input:     input,
		Status:    models.StepStatusPending,
		StartedAt: now,
	}
	if err := m.store.CreateSession(ctx, sess, step); err != nil {
		return nil, err
	}

	m.telemetry.Record(ctx, &models.TelemetryEvent{
		Type:      models.EventWorkflowStarted,
		ToolID:    initialTool,
		SessionID: sess.ID,
		Success:   true,
		Metadata:  models.JSONMap{"user_id": userID},
	})
	log.Info().
		Str("sessionId", sess.ID).
		Str("userId", userID).
		Str("tool", initialTool).
		Msg("Workflow session started")

	return &SessionHandle{SessionID: sess.ID, StepID: step.ID}, nil
}

// BeginStep begins a tool invocation in the session and transitions it to
// active. When the session's latest step is still pending for the same
// tool (the step StartSession seeded), that step is activated instead of
// appending a duplicate.
//
// Returns SessionNotFoundError when the session is missing or not active,
// InvalidToolError for unregistered tools, and ConcurrentStepError when
// another step is already active.
func (m *Manager) BeginStep(ctx context.Context, sessionID, toolID, action string, input models.JSONMap) (*StepHandle, error) {
	if !m.tools.Has(toolID) {
		return nil, &InvalidToolError{ToolID: toolID}
	}

	sess, err := m.store.GetSessionWithSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusActive {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}

	// Reject early so a doomed begin does not append an orphaned pending
	// step. The ActivateStep compare-and-set below still catches the race
	// between two near-simultaneous begins.
	if active := sess.ActiveStep(); active != nil {
		return nil, &ConcurrentStepError{SessionID: sessionID, ActiveStepID: active.ID}
	}

	now := m.now()

	// Reuse the trailing pending step when it targets the same tool.
	if n := len(sess.Steps); n > 0 {
		last := sess.Steps[n-1]
		if last.Status == models.StepStatusPending && last.ToolID == toolID {
			if err := m.store.ActivateStep(ctx, sessionID, last.ID, now); err != nil {
				return nil, err
			}
			return &StepHandle{SessionID: sessionID, StepID: last.ID}, nil
		}
	}

	step := &models.WorkflowStep{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ToolID:    toolID,
		Action:    action,
		Input:     input,
		Status:    models.StepStatusPending,
		StartedAt: now,
	}
	if err := m.store.AppendStep(ctx, step); err != nil {
		return nil, err
	}
	if err := m.store.ActivateStep(ctx, sessionID, step.ID, now); err != nil {
		return nil, err
	}
	return &StepHandle{SessionID: sessionID, StepID: step.ID}, nil
}

// CompleteStep transitions the step to completed, records output and
// usage, meters usage against the quota, and emits a
// workflow_step_completed event. Calling it on a step that is already
// terminal logs a warning and changes nothing; no second event is emitted.
func (m *Manager) CompleteStep(ctx context.Context, stepID string, output models.JSONMap, usage *models.Usage) error {
	step, err := m.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}

	upd := StepUpdate{
		Status:      models.StepStatusCompleted,
		Output:      output,
		CompletedAt: m.now(),
	}
	if usage != nil {
		upd.TokensUsed = usage.Tokens
		upd.CostUSD = usage.CostUSD
	}

	updated, err := m.store.FinishStep(ctx, stepID, upd)
	if err != nil {
		return err
	}
	if !updated {
		log.Warn().
			Str("stepId", stepID).
			Str("sessionId", step.SessionID).
			Msg("Step already terminal, complete ignored")
		return nil
	}

	event := &models.TelemetryEvent{
		Type:      models.EventWorkflowStepCompleted,
		ToolID:    step.ToolID,
		SessionID: step.SessionID,
		Success:   true,
	}
	if usage != nil {
		event.TokensUsed = usage.Tokens
		event.CostUSD = usage.CostUSD
	}
	m.telemetry.Record(ctx, event)

	if m.quota != nil && usage != nil {
		sess, err := m.store.GetSession(ctx, step.SessionID)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", step.SessionID).Msg("Session lookup failed, usage not metered")
		} else if err := m.quota.RecordUsage(ctx, sess.UserID, usage.Tokens, usage.CostUSD); err != nil {
			log.Warn().Err(err).Str("sessionId", step.SessionID).Msg("Failed to meter usage")
		}
	}
	return nil
}

// FailStep transitions the step to failed with the given display-safe
// error message and emits a workflow_failed event. Same idempotency guard
// as CompleteStep.
func (m *Manager) FailStep(ctx context.Context, stepID, errorMessage string) error {
	step, err := m.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}

	errorMessage = privacy.DisplaySafe(errorMessage)

	updated, err := m.store.FinishStep(ctx, stepID, StepUpdate{
		Status:       models.StepStatusFailed,
		ErrorMessage: errorMessage,
		CompletedAt:  m.now(),
	})
	if err != nil {
		return err
	}
	if !updated {
		log.Warn().
			Str("stepId", stepID).
			Str("sessionId", step.SessionID).
			Msg("Step already terminal, fail ignored")
		return nil
	}

	m.telemetry.Record(ctx, &models.TelemetryEvent{
		Type:         models.EventWorkflowFailed,
		ToolID:       step.ToolID,
		SessionID:    step.SessionID,
		Success:      false,
		ErrorMessage: errorMessage,
	})
	return nil
}

// ResumeSession returns the session with its full step history, for the
// breadcrumb view. Returns SessionNotFoundError when absent.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) (*models.WorkflowSession, error) {
	return m.store.GetSessionWithSteps(ctx, sessionID)
}

// Session returns the session record without step bodies.
func (m *Manager) Session(ctx context.Context, sessionID string) (*models.WorkflowSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// CompleteSession marks the session completed and emits a
// workflow_completed event. Only active sessions transition.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string) error {
	return m.closeSession(ctx, sessionID, models.SessionStatusCompleted)
}

// AbandonSession marks the session abandoned. The inactivity threshold
// that triggers this lives with the caller, not in this core.
func (m *Manager) AbandonSession(ctx context.Context, sessionID string) error {
	return m.closeSession(ctx, sessionID, models.SessionStatusAbandoned)
}

func (m *Manager) closeSession(ctx context.Context, sessionID string, status models.SessionStatus) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		log.Warn().
			Str("sessionId", sessionID).
			Str("status", string(sess.Status)).
			Msg("Session already closed")
		return nil
	}

	if err := m.store.SetSessionStatus(ctx, sessionID, status, m.now()); err != nil {
		return err
	}
	if status == models.SessionStatusCompleted {
		m.telemetry.Record(ctx, &models.TelemetryEvent{
			Type:      models.EventWorkflowCompleted,
			SessionID: sessionID,
			Success:   true,
		})
	}
	return nil
}

// Run executes one managed invocation end to end: quota reservation,
// step begin, instrumented external call, terminal transition, usage
// settlement. The external call is the only long-latency operation; the
// caller is responsible for timing it out (pass a deadline context and
// the step is failed with the context error).
func (m *Manager) Run(ctx context.Context, sessionID, toolID, action string, input models.JSONMap, estimatedTokens int64, invoke telemetry.InvokeFunc) (*RunResult, error) {
	var reservation *quota.Reservation
	if m.quota != nil {
		sess, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		r, decision, err := m.quota.Reserve(ctx, sess.UserID, estimatedTokens)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return &RunResult{Denied: &decision}, nil
		}
		reservation = r
	}

	// CompleteStep meters the actual usage; the reservation only holds the
	// estimate while the call is in flight.
	defer m.releaseReservation(reservation)

	handle, err := m.BeginStep(ctx, sessionID, toolID, action, input)
	if err != nil {
		return nil, err
	}

	wrapped := m.telemetry.Wrap(invoke, toolID, sessionID)
	output, usage, invokeErr := wrapped(ctx, input)

	if invokeErr != nil {
		if err := m.FailStep(ctx, handle.StepID, invokeErr.Error()); err != nil {
			log.Warn().Err(err).Str("stepId", handle.StepID).Msg("Failed to record step failure")
		}
		return &RunResult{Step: *handle}, invokeErr
	}

	if err := m.CompleteStep(ctx, handle.StepID, output, usage); err != nil {
		return nil, err
	}
	return &RunResult{Step: *handle, Output: output, Usage: usage}, nil
}

func (m *Manager) releaseReservation(r *quota.Reservation) {
	if m.quota != nil && r != nil {
		m.quota.Release(r)
	}
}

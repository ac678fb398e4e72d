package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/maestro/internal/orchestrator/session"
	"github.com/thebtf/maestro/pkg/models"
)

// SessionStore implements session.Store on the GORM store.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a persistent session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

func toSessionModel(row *WorkflowSession) *models.WorkflowSession {
	return &models.WorkflowSession{
		ID:        row.ID,
		UserID:    row.UserID,
		Status:    models.SessionStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func toStepModel(row *WorkflowStep) *models.WorkflowStep {
	return &models.WorkflowStep{
		ID:           row.StepID,
		SessionID:    row.SessionID,
		ToolID:       row.ToolID,
		Action:       row.Action,
		Input:        row.Input,
		Output:       row.Output,
		Status:       models.StepStatus(row.Status),
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
		TokensUsed:   row.TokensUsed,
		CostUSD:      row.CostUSD,
		ErrorMessage: row.ErrorMessage,
	}
}

// CreateSession implements session.Store.
func (s *SessionStore) CreateSession(ctx context.Context, sess *models.WorkflowSession, first *models.WorkflowStep) error {
	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &WorkflowSession{
			ID:        sess.ID,
			UserID:    sess.UserID,
			Status:    string(sess.Status),
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		step := &WorkflowStep{
			StepID:    first.ID,
			SessionID: first.SessionID,
			ToolID:    first.ToolID,
			Action:    first.Action,
			Input:     first.Input,
			Status:    string(first.Status),
			StartedAt: first.StartedAt,
		}
		if err := tx.Create(step).Error; err != nil {
			return fmt.Errorf("create initial step: %w", err)
		}
		return nil
	})
}

func (s *SessionStore) loadSession(ctx context.Context, sessionID string) (*WorkflowSession, error) {
	var row WorkflowSession
	err := s.store.DB.WithContext(ctx).First(&row, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &session.SessionNotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &row, nil
}

func (s *SessionStore) loadSteps(ctx context.Context, sessionID string) ([]WorkflowStep, error) {
	var rows []WorkflowStep
	err := s.store.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	return rows, nil
}

// GetSession implements session.Store. The returned session carries step
// IDs only.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.WorkflowSession, error) {
	row, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.loadSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess := toSessionModel(row)
	sess.StepIDs = make([]string, 0, len(steps))
	for i := range steps {
		sess.StepIDs = append(sess.StepIDs, steps[i].StepID)
	}
	return sess, nil
}

// GetSessionWithSteps implements session.Store.
func (s *SessionStore) GetSessionWithSteps(ctx context.Context, sessionID string) (*models.WorkflowSession, error) {
	row, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.loadSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess := toSessionModel(row)
	sess.StepIDs = make([]string, 0, len(steps))
	sess.Steps = make([]*models.WorkflowStep, 0, len(steps))
	for i := range steps {
		sess.StepIDs = append(sess.StepIDs, steps[i].StepID)
		sess.Steps = append(sess.Steps, toStepModel(&steps[i]))
	}
	return sess, nil
}

// SetSessionStatus implements session.Store.
func (s *SessionStore) SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, at time.Time) error {
	result := s.store.DB.WithContext(ctx).
		Model(&WorkflowSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{"status": string(status), "updated_at": at})
	if result.Error != nil {
		return fmt.Errorf("update session status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &session.SessionNotFoundError{SessionID: sessionID}
	}
	return nil
}

// AppendStep implements session.Store. The step list is append-only;
// insertion order is the autoincrement key.
func (s *SessionStore) AppendStep(ctx context.Context, step *models.WorkflowStep) error {
	if _, err := s.loadSession(ctx, step.SessionID); err != nil {
		return err
	}
	row := &WorkflowStep{
		StepID:    step.ID,
		SessionID: step.SessionID,
		ToolID:    step.ToolID,
		Action:    step.Action,
		Input:     step.Input,
		Status:    string(step.Status),
		StartedAt: step.StartedAt,
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return s.touchSession(ctx, step.SessionID, step.StartedAt)
}

// GetStep implements session.Store.
func (s *SessionStore) GetStep(ctx context.Context, stepID string) (*models.WorkflowStep, error) {
	var row WorkflowStep
	err := s.store.DB.WithContext(ctx).First(&row, "step_id = ?", stepID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load step: %w", err)
	}
	return toStepModel(&row), nil
}

// ActivateStep implements session.Store. The guarded UPDATE is the
// compare-and-set: it only fires when the step is pending and no other
// step in the session is active.
func (s *SessionStore) ActivateStep(ctx context.Context, sessionID, stepID string, at time.Time) error {
	result := s.store.DB.WithContext(ctx).Exec(`
		UPDATE workflow_steps
		SET status = 'active', started_at = ?
		WHERE step_id = ? AND status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM workflow_steps
			WHERE session_id = ? AND status = 'active'
		  )`,
		at, stepID, sessionID,
	)
	if result.Error != nil {
		return fmt.Errorf("activate step: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return s.touchSession(ctx, sessionID, at)
	}

	// The update did not fire: distinguish missing, already-active, and
	// invariant violation.
	step, err := s.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if step.Status == models.StepStatusActive {
		return nil
	}
	active, err := s.activeStepID(ctx, sessionID)
	if err != nil {
		return err
	}
	return &session.ConcurrentStepError{SessionID: sessionID, ActiveStepID: active}
}

func (s *SessionStore) activeStepID(ctx context.Context, sessionID string) (string, error) {
	var row WorkflowStep
	err := s.store.DB.WithContext(ctx).
		Where("session_id = ? AND status = 'active'", sessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find active step: %w", err)
	}
	return row.StepID, nil
}

// FinishStep implements session.Store. Returns false when the step was
// already terminal; the first terminal value wins.
func (s *SessionStore) FinishStep(ctx context.Context, stepID string, upd session.StepUpdate) (bool, error) {
	result := s.store.DB.WithContext(ctx).
		Model(&WorkflowStep{}).
		Where("step_id = ? AND status IN ('pending', 'active')", stepID).
		Updates(map[string]any{
			"status":        string(upd.Status),
			"output":        upd.Output,
			"tokens_used":   upd.TokensUsed,
			"cost_usd":      upd.CostUSD,
			"error_message": upd.ErrorMessage,
			"completed_at":  upd.CompletedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("finish step: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Either terminal already or missing entirely.
		if _, err := s.GetStep(ctx, stepID); err != nil {
			return false, err
		}
		return false, nil
	}

	step, err := s.GetStep(ctx, stepID)
	if err != nil {
		return true, nil
	}
	return true, s.touchSession(ctx, step.SessionID, upd.CompletedAt)
}

func (s *SessionStore) touchSession(ctx context.Context, sessionID string, at time.Time) error {
	return s.store.DB.WithContext(ctx).
		Model(&WorkflowSession{}).
		Where("id = ?", sessionID).
		Update("updated_at", at).Error
}

package gorm

import (
	"context"
	"fmt"

	"github.com/thebtf/maestro/pkg/models"
)

// HandoffStore implements handoff.Store on the GORM store. Handoffs are
// write-once; there is no update or delete path.
type HandoffStore struct {
	store *Store
}

// NewHandoffStore creates a persistent handoff store.
func NewHandoffStore(store *Store) *HandoffStore {
	return &HandoffStore{store: store}
}

// CreateHandoff implements handoff.Store.
func (s *HandoffStore) CreateHandoff(ctx context.Context, h *models.AgentHandoff) error {
	row := &AgentHandoff{
		ID:        h.ID,
		SessionID: h.SessionID,
		FromTool:  h.FromTool,
		ToTool:    h.ToTool,
		Reason:    h.Reason,
		Context:   h.Context,
		CreatedAt: h.CreatedAt,
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create handoff: %w", err)
	}
	return nil
}

// BySession implements handoff.Store, oldest first.
func (s *HandoffStore) BySession(ctx context.Context, sessionID string) ([]*models.AgentHandoff, error) {
	var rows []AgentHandoff
	err := s.store.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load handoffs: %w", err)
	}

	out := make([]*models.AgentHandoff, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		out = append(out, &models.AgentHandoff{
			ID:        row.ID,
			SessionID: row.SessionID,
			FromTool:  row.FromTool,
			ToTool:    row.ToTool,
			Reason:    row.Reason,
			Context:   row.Context,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

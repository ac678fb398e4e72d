package gorm

import (
	"context"
	"fmt"

	"github.com/thebtf/maestro/pkg/models"
)

// TelemetryStore implements telemetry.Store on the GORM store.
// Events are append-only: this store exposes no update or delete path.
type TelemetryStore struct {
	store *Store
}

// NewTelemetryStore creates a persistent telemetry event store.
func NewTelemetryStore(store *Store) *TelemetryStore {
	return &TelemetryStore{store: store}
}

// Append implements telemetry.Store.
func (s *TelemetryStore) Append(ctx context.Context, event *models.TelemetryEvent) error {
	row := &TelemetryEvent{
		EventID:        event.ID,
		EventType:      string(event.Type),
		ToolID:         event.ToolID,
		SessionID:      event.SessionID,
		ConversationID: event.ConversationID,
		ProjectID:      event.ProjectID,
		LatencyMS:      event.LatencyMS,
		TokensUsed:     event.TokensUsed,
		CostUSD:        event.CostUSD,
		Success:        event.Success,
		ErrorMessage:   event.ErrorMessage,
		Metadata:       event.Metadata,
		CreatedAt:      event.CreatedAt,
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// BySession implements telemetry.Store. Events come back in append order.
func (s *TelemetryStore) BySession(ctx context.Context, sessionID string) ([]*models.TelemetryEvent, error) {
	var rows []TelemetryEvent
	err := s.store.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load telemetry events: %w", err)
	}

	out := make([]*models.TelemetryEvent, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		out = append(out, &models.TelemetryEvent{
			ID:             row.EventID,
			Type:           models.EventType(row.EventType),
			ToolID:         row.ToolID,
			SessionID:      row.SessionID,
			ConversationID: row.ConversationID,
			ProjectID:      row.ProjectID,
			LatencyMS:      row.LatencyMS,
			TokensUsed:     row.TokensUsed,
			CostUSD:        row.CostUSD,
			Success:        row.Success,
			ErrorMessage:   row.ErrorMessage,
			Metadata:       row.Metadata,
			CreatedAt:      row.CreatedAt,
		})
	}
	return out, nil
}

// Package telemetry records immutable audit events for the orchestration core.
package telemetry

import (
	"context"
	"sync"

	"github.com/thebtf/maestro/pkg/models"
)

// Store persists telemetry events. Events are append-only: implementations
// must not expose update or delete paths.
type Store interface {
	// Append stores a single event.
	Append(ctx context.Context, event *models.TelemetryEvent) error
	// BySession returns all events recorded for a session, in append order.
	BySession(ctx context.Context, sessionID string) ([]*models.TelemetryEvent, error)
}

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*models.TelemetryEvent
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, event *models.TelemetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *event
	m.events = append(m.events, &clone)
	return nil
}

// BySession implements Store.
func (m *MemoryStore) BySession(_ context.Context, sessionID string) ([]*models.TelemetryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TelemetryEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every recorded event in append order.
func (m *MemoryStore) All() []*models.TelemetryEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.TelemetryEvent, len(m.events))
	copy(out, m.events)
	return out
}

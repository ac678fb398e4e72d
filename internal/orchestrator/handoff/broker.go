// Package handoff mediates context transfer between tools within a session.
//
// The Broker is the sole writer of AgentHandoff records and the sole
// trigger of the permission check, so the access-control decision stays in
// one place and can be tested on its own.
package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/maestro/internal/orchestrator/session"
	"github.com/thebtf/maestro/internal/privacy"
	"github.com/thebtf/maestro/internal/telemetry"
	"github.com/thebtf/maestro/pkg/models"
)

// PermissionFunc decides whether a user may receive a handoff to the
// destination tool. It returns the decision and, on denial, a reason
// string suitable for direct display. Role and discipline semantics live
// with the caller; the broker only consumes the verdict.
type PermissionFunc func(ctx context.Context, userID, toolID string) (bool, string)

// Decision is the outcome of a handoff proposal. Denial is a routine
// outcome returned as data, never as an error.
type Decision struct {
	Granted bool                 `json:"granted"`
	Reason  string               `json:"reason,omitempty"`
	Handoff *models.AgentHandoff `json:"handoff,omitempty"`
	Step    *session.StepHandle  `json:"step,omitempty"`
}

// Store persists accepted handoffs. Handoffs are immutable once created.
type Store interface {
	CreateHandoff(ctx context.Context, h *models.AgentHandoff) error
	BySession(ctx context.Context, sessionID string) ([]*models.AgentHandoff, error)
}

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu       sync.RWMutex
	handoffs []*models.AgentHandoff
}

// NewMemoryStore creates an empty in-memory handoff store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// CreateHandoff implements Store.
func (m *MemoryStore) CreateHandoff(_ context.Context, h *models.AgentHandoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *h
	m.handoffs = append(m.handoffs, &clone)
	return nil
}

// BySession implements Store.
func (m *MemoryStore) BySession(_ context.Context, sessionID string) ([]*models.AgentHandoff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AgentHandoff
	for _, h := range m.handoffs {
		if h.SessionID == sessionID {
			out = append(out, h)
		}
	}
	return out, nil
}

// All returns every stored handoff. Test helper.
func (m *MemoryStore) All() []*models.AgentHandoff {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AgentHandoff, len(m.handoffs))
	copy(out, m.handoffs)
	return out
}

// Broker evaluates and executes handoff proposals.
type Broker struct {
	store     Store
	sessions  *session.Manager
	telemetry *telemetry.Sink
	permit    PermissionFunc
	now       func() time.Time
}

// NewBroker creates a handoff broker. The permission predicate is
// supplied at construction time.
func NewBroker(store Store, sessions *session.Manager, sink *telemetry.Sink, permit PermissionFunc) *Broker {
	return &Broker{
		store:     store,
		sessions:  sessions,
		telemetry: sink,
		permit:    permit,
		now:       time.Now,
	}
}

// ProposeHandoff evaluates a handoff from fromTool to toTool within the
// session. When granted it persists the AgentHandoff, begins a new step
// for toTool seeded from the carried context, and emits an agent_handoff
// event. When denied it emits a permission_denied event, persists
// nothing, and returns the denial reason.
//
// A ConcurrentStepError from the step creation propagates to the caller
// and leaves no handoff record behind.
func (b *Broker) ProposeHandoff(ctx context.Context, sessionID, fromTool, toTool, reason string, carried models.JSONMap) (*Decision, error) {
	sess, err := b.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	granted, denyReason := b.permit(ctx, sess.UserID, toTool)
	if !granted {
		denyReason = privacy.DisplaySafe(denyReason)
		b.telemetry.Record(ctx, &models.TelemetryEvent{
			Type:         models.EventPermissionDenied,
			ToolID:       toTool,
			SessionID:    sessionID,
			Success:      false,
			ErrorMessage: denyReason,
			Metadata: models.JSONMap{
				"from_tool": fromTool,
				"reason":    reason,
			},
		})
		log.Info().
			Str("sessionId", sessionID).
			Str("fromTool", fromTool).
			Str("toTool", toTool).
			Msg("Handoff denied")
		return &Decision{Granted: false, Reason: denyReason}, nil
	}

	// Create the destination step first: if the one-active-step invariant
	// rejects it, no handoff record must exist.
	step, err := b.sessions.BeginStep(ctx, sessionID, toTool, "handoff", carried.Clone())
	if err != nil {
		return nil, err
	}

	h := &models.AgentHandoff{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		FromTool:  fromTool,
		ToTool:    toTool,
		Reason:    reason,
		Context:   carried.Clone(),
		CreatedAt: b.now(),
	}
	if err := b.store.CreateHandoff(ctx, h); err != nil {
		return nil, err
	}

	b.telemetry.Record(ctx, &models.TelemetryEvent{
		Type:      models.EventAgentHandoff,
		ToolID:    toTool,
		SessionID: sessionID,
		Success:   true,
		Metadata: models.JSONMap{
			"from_tool": fromTool,
			"to_tool":   toTool,
			"reason":    reason,
		},
	})
	if len(carried) > 0 {
		b.telemetry.Record(ctx, &models.TelemetryEvent{
			Type:      models.EventContextTransferred,
			ToolID:    toTool,
			SessionID: sessionID,
			Success:   true,
			Metadata:  models.JSONMap{"keys": len(carried)},
		})
	}

	return &Decision{Granted: true, Handoff: h, Step: step}, nil
}

// History returns the accepted handoffs recorded for a session, oldest first.
func (b *Broker) History(ctx context.Context, sessionID string) ([]*models.AgentHandoff, error) {
	return b.store.BySession(ctx, sessionID)
}

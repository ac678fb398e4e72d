// Package quota meters token and cost consumption against per-user
// monthly ceilings.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/thebtf/maestro/pkg/models"
)

// Defaults supplies the quota ceilings applied to users without stored state.
type Defaults struct {
	TokenCeiling   int64
	CostCeilingUSD float64
	OverageAllowed bool
}

// Store persists per-user, per-period quota state. AddUsage must apply
// increments atomically; consumed values only ever grow within a period.
type Store interface {
	// Get returns the quota state for a user and period, creating it from
	// the defaults when absent.
	Get(ctx context.Context, userID, period string) (*models.QuotaState, error)
	// AddUsage atomically increments the consumed counters.
	AddUsage(ctx context.Context, userID, period string, tokens int64, costUSD float64) error
}

// Period returns the quota period key for a point in time (YYYY-MM).
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// periodReset returns the first instant of the following period.
func periodReset(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu       sync.Mutex
	defaults Defaults
	states   map[string]*models.QuotaState // userID|period
}

// NewMemoryStore creates an in-memory quota store with the given defaults.
func NewMemoryStore(defaults Defaults) *MemoryStore {
	return &MemoryStore{
		defaults: defaults,
		states:   make(map[string]*models.QuotaState),
	}
}

func (m *MemoryStore) get(userID, period string) *models.QuotaState {
	key := userID + "|" + period
	state, ok := m.states[key]
	if !ok {
		state = &models.QuotaState{
			UserID:         userID,
			Period:         period,
			TokenCeiling:   m.defaults.TokenCeiling,
			CostCeilingUSD: m.defaults.CostCeilingUSD,
			OverageAllowed: m.defaults.OverageAllowed,
			ResetsAt:       periodReset(time.Now()),
		}
		m.states[key] = state
	}
	return state
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID, period string) (*models.QuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := *m.get(userID, period)
	return &state, nil
}

// AddUsage implements Store.
func (m *MemoryStore) AddUsage(_ context.Context, userID, period string, tokens int64, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.get(userID, period)
	state.TokensConsumed += tokens
	state.CostConsumedUSD += costUSD
	return nil
}

// SetState replaces a user's state directly. Test helper.
func (m *MemoryStore) SetState(state *models.QuotaState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *state
	m.states[state.UserID+"|"+state.Period] = &clone
}

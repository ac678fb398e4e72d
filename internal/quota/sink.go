package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/maestro/pkg/models"
)

// Decision is the outcome of a quota pre-check. Denial is a routine,
// expected outcome surfaced as data, never as an error.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	RemainingTokens int64  `json:"remaining_tokens"`
	Reason          string `json:"reason,omitempty"`
}

// Reservation holds an estimated token amount against a user's ceiling
// until it is settled with real usage or released. Reservations close the
// race between two concurrent pre-checks for the same user; they are
// process-local and advisory.
type Reservation struct {
	ID     string
	UserID string
	Tokens int64
}

// Sink enforces per-user monthly quotas.
type Sink struct {
	store Store
	now   func() time.Time

	mu       sync.Mutex
	reserved map[string]int64                // userID -> reserved tokens
	byID     map[string]*Reservation         // reservation ID -> reservation
}

// NewSink creates a quota sink backed by the given store.
func NewSink(store Store) *Sink {
	return &Sink{
		store:    store,
		now:      time.Now,
		reserved: make(map[string]int64),
		byID:     make(map[string]*Reservation),
	}
}

func (s *Sink) state(ctx context.Context, userID string) (*models.QuotaState, error) {
	return s.store.Get(ctx, userID, Period(s.now()))
}

func (s *Sink) reservedTokens(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved[userID]
}

func (s *Sink) decide(state *models.QuotaState, reserved, estimatedTokens int64) Decision {
	remaining := state.TokenCeiling - state.TokensConsumed - reserved
	if remaining < 0 {
		remaining = 0
	}

	if state.TokenCeiling > 0 && state.TokensConsumed+reserved+estimatedTokens > state.TokenCeiling {
		if !state.OverageAllowed {
			return Decision{
				Allowed:         false,
				RemainingTokens: remaining,
				Reason: fmt.Sprintf("monthly token quota reached (%d of %d used)",
					state.TokensConsumed, state.TokenCeiling),
			}
		}
	}
	return Decision{Allowed: true, RemainingTokens: remaining}
}

// CheckQuota reads the current state and decides whether an invocation
// estimated at estimatedTokens may proceed. Advisory pre-flight: it does
// not reserve tokens. Use Reserve when callers may race.
func (s *Sink) CheckQuota(ctx context.Context, userID string, estimatedTokens int64) (Decision, error) {
	state, err := s.state(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load quota state: %w", err)
	}
	return s.decide(state, s.reservedTokens(userID), estimatedTokens), nil
}

// Reserve performs the quota check and, when allowed, holds the estimate
// against the ceiling until Settle or Release is called.
func (s *Sink) Reserve(ctx context.Context, userID string, estimatedTokens int64) (*Reservation, Decision, error) {
	state, err := s.state(ctx, userID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("load quota state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	decision := s.decide(state, s.reserved[userID], estimatedTokens)
	if !decision.Allowed {
		return nil, decision, nil
	}

	r := &Reservation{ID: uuid.NewString(), UserID: userID, Tokens: estimatedTokens}
	s.reserved[userID] += estimatedTokens
	s.byID[r.ID] = r
	return r, decision, nil
}

// Settle releases the reservation and records the actual usage. Must be
// called exactly once per completed invocation.
func (s *Sink) Settle(ctx context.Context, r *Reservation, tokensUsed int64, costUSD float64) error {
	s.Release(r)
	return s.RecordUsage(ctx, r.UserID, tokensUsed, costUSD)
}

// Release frees a reservation without recording usage (failed invocation).
// Releasing an unknown or already-released reservation is a no-op.
func (s *Sink) Release(r *Reservation) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return
	}
	delete(s.byID, r.ID)
	s.reserved[r.UserID] -= r.Tokens
	if s.reserved[r.UserID] <= 0 {
		delete(s.reserved, r.UserID)
	}
}

// RecordUsage increments the consumed counters for the current period.
// Negative increments are rejected: consumption is monotonic.
func (s *Sink) RecordUsage(ctx context.Context, userID string, tokensUsed int64, costUSD float64) error {
	if tokensUsed < 0 || costUSD < 0 {
		return fmt.Errorf("usage must be non-negative: tokens=%d cost=%f", tokensUsed, costUSD)
	}
	if tokensUsed == 0 && costUSD == 0 {
		return nil
	}
	if err := s.store.AddUsage(ctx, userID, Period(s.now()), tokensUsed, costUSD); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	log.Debug().
		Str("userId", userID).
		Int64("tokens", tokensUsed).
		Float64("costUsd", costUSD).
		Msg("Recorded quota usage")
	return nil
}

// Status derives the four-level consumption badge for UI display.
func (s *Sink) Status(ctx context.Context, userID string) (models.QuotaStatusBadge, error) {
	state, err := s.state(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load quota state: %w", err)
	}
	return state.Badge(), nil
}

// State returns the full quota state for the current period.
func (s *Sink) State(ctx context.Context, userID string) (*models.QuotaState, error) {
	return s.state(ctx, userID)
}

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/maestro/internal/quota"
	"github.com/thebtf/maestro/pkg/models"
)

// QuotaStore implements quota.Store on the GORM store.
type QuotaStore struct {
	store    *Store
	defaults quota.Defaults
}

// NewQuotaStore creates a persistent quota store. Users without a stored
// row get the supplied default ceilings.
func NewQuotaStore(store *Store, defaults quota.Defaults) *QuotaStore {
	return &QuotaStore{store: store, defaults: defaults}
}

func (s *QuotaStore) periodReset() time.Time {
	y, m, _ := time.Now().UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// Get implements quota.Store.
func (s *QuotaStore) Get(ctx context.Context, userID, period string) (*models.QuotaState, error) {
	var row QuotaState
	err := s.store.DB.WithContext(ctx).
		First(&row, "user_id = ? AND period = ?", userID, period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.QuotaState{
			UserID:         userID,
			Period:         period,
			TokenCeiling:   s.defaults.TokenCeiling,
			CostCeilingUSD: s.defaults.CostCeilingUSD,
			OverageAllowed: s.defaults.OverageAllowed,
			ResetsAt:       s.periodReset(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load quota state: %w", err)
	}

	return &models.QuotaState{
		UserID:          row.UserID,
		Period:          row.Period,
		TokenCeiling:    row.TokenCeiling,
		CostCeilingUSD:  row.CostCeilingUSD,
		TokensConsumed:  row.TokensConsumed,
		CostConsumedUSD: row.CostConsumedUSD,
		ResetsAt:        row.ResetsAt,
		OverageAllowed:  row.OverageAllowed,
	}, nil
}

// AddUsage implements quota.Store. The upsert keeps the increments atomic
// so concurrent meters never lose updates.
func (s *QuotaStore) AddUsage(ctx context.Context, userID, period string, tokens int64, costUSD float64) error {
	row := &QuotaState{
		UserID:          userID,
		Period:          period,
		TokenCeiling:    s.defaults.TokenCeiling,
		CostCeilingUSD:  s.defaults.CostCeilingUSD,
		TokensConsumed:  tokens,
		CostConsumedUSD: costUSD,
		OverageAllowed:  s.defaults.OverageAllowed,
		ResetsAt:        s.periodReset(),
	}
	err := s.store.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]any{
			"tokens_consumed":   gorm.Expr("tokens_consumed + ?", tokens),
			"cost_consumed_usd": gorm.Expr("cost_consumed_usd + ?", costUSD),
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("apply quota usage: %w", err)
	}
	return nil
}

// SetCeilings upserts a user's ceilings for a period (plan changes).
func (s *QuotaStore) SetCeilings(ctx context.Context, userID, period string, tokenCeiling int64, costCeilingUSD float64, overageAllowed bool) error {
	row := &QuotaState{
		UserID:         userID,
		Period:         period,
		TokenCeiling:   tokenCeiling,
		CostCeilingUSD: costCeilingUSD,
		OverageAllowed: overageAllowed,
		ResetsAt:       s.periodReset(),
	}
	err := s.store.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]any{
			"token_ceiling":    tokenCeiling,
			"cost_ceiling_usd": costCeilingUSD,
			"overage_allowed":  overageAllowed,
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("set quota ceilings: %w", err)
	}
	return nil
}

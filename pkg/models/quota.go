package models

import "time"

// QuotaStatusBadge is a four-level consumption indicator for UI display.
type QuotaStatusBadge string

const (
	QuotaHealthy  QuotaStatusBadge = "healthy"
	QuotaWarning  QuotaStatusBadge = "warning"
	QuotaCritical QuotaStatusBadge = "critical"
	QuotaExceeded QuotaStatusBadge = "exceeded"
)

// QuotaState tracks a user's consumption against their monthly ceiling.
// Consumed values are monotonically non-decreasing within a period; the
// reset to a new period is driven by an external scheduled process.
type QuotaState struct {
	UserID          string    `db:"user_id" json:"user_id"`
	Period          string    `db:"period" json:"period"` // YYYY-MM
	TokenCeiling    int64     `db:"token_ceiling" json:"token_ceiling"`
	CostCeilingUSD  float64   `db:"cost_ceiling_usd" json:"cost_ceiling_usd"`
	TokensConsumed  int64     `db:"tokens_consumed" json:"tokens_consumed"`
	CostConsumedUSD float64   `db:"cost_consumed_usd" json:"cost_consumed_usd"`
	ResetsAt        time.Time `db:"resets_at" json:"resets_at"`
	OverageAllowed  bool      `db:"overage_allowed" json:"overage_allowed"`
}

// Ratio returns the consumption ratio used for badge derivation: the
// larger of the token and cost ratios, skipping ceilings that are unset.
func (q *QuotaState) Ratio() float64 {
	var ratio float64
	if q.TokenCeiling > 0 {
		ratio = float64(q.TokensConsumed) / float64(q.TokenCeiling)
	}
	if q.CostCeilingUSD > 0 {
		if r := q.CostConsumedUSD / q.CostCeilingUSD; r > ratio {
			ratio = r
		}
	}
	return ratio
}

// Badge derives the status badge from the consumption ratio.
// Bands: healthy <50%, warning 50-79%, critical 80-99%, exceeded >=100%.
func (q *QuotaState) Badge() QuotaStatusBadge {
	switch ratio := q.Ratio(); {
	case ratio >= 1.0:
		return QuotaExceeded
	case ratio >= 0.8:
		return QuotaCritical
	case ratio >= 0.5:
		return QuotaWarning
	default:
		return QuotaHealthy
	}
}

package models

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// QuotaSuite is a test suite for quota badge derivation.
type QuotaSuite struct {
	suite.Suite
}

func TestQuotaSuite(t *testing.T) {
	suite.Run(t, new(QuotaSuite))
}

// TestBadgeBoundaries tests the badge bands at their documented boundaries.
func (s *QuotaSuite) TestBadgeBoundaries() {
	tests := []struct {
		name     string
		consumed int64
		want     QuotaStatusBadge
	}{
		{"49% is healthy", 49, QuotaHealthy},
		{"50% is warning", 50, QuotaWarning},
		{"79% is warning", 79, QuotaWarning},
		{"80% is critical", 80, QuotaCritical},
		{"99% is critical", 99, QuotaCritical},
		{"100% is exceeded", 100, QuotaExceeded},
		{"over ceiling is exceeded", 140, QuotaExceeded},
		{"zero consumption is healthy", 0, QuotaHealthy},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			q := &QuotaState{TokenCeiling: 100, TokensConsumed: tt.consumed}
			s.Equal(tt.want, q.Badge())
		})
	}
}

// TestRatioUsesWorstCeiling tests that the badge reflects whichever of the
// token and cost ratios is higher.
func (s *QuotaSuite) TestRatioUsesWorstCeiling() {
	q := &QuotaState{
		TokenCeiling:    1000,
		TokensConsumed:  100, // 10%
		CostCeilingUSD:  10,
		CostConsumedUSD: 9, // 90%
	}
	s.Equal(QuotaCritical, q.Badge())
	s.InDelta(0.9, q.Ratio(), 1e-9)
}

// TestRatioWithoutCeilings tests that unset ceilings never divide by zero.
func (s *QuotaSuite) TestRatioWithoutCeilings() {
	q := &QuotaState{TokensConsumed: 500}
	s.Equal(QuotaHealthy, q.Badge())
	s.Zero(q.Ratio())
}

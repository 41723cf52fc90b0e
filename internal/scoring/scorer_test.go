package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

func otcQuote(venue string, days, risk float64) model.EdgeQuote {
	return model.EdgeQuote{
		VenueID:   venue,
		VenueKind: model.VenueOTC,
		FromToken: "USDC",
		ToToken:   "EUR",
		AmountIn:  1000,
		AmountOut: 920,
		SettlementMeta: &model.SettlementMeta{
			SettlementDays:   days,
			CounterpartyRisk: risk,
		},
	}
}

func TestScore_AppliesTimePenaltyAndCounterpartyDiscount(t *testing.T) {
	s := New(Params{
		Volatility:      map[string]float64{"USDC/EUR": 0.004},
		DefaultDailyVol: 0.005,
	})

	gross := 917.24
	res := s.Score(gross, "USDC", "EUR", []model.EdgeQuote{otcQuote("otc:x", 0.1, 0.001)})

	wantPenalty := gross * 0.004 * math.Sqrt(0.1)
	wantDiscount := gross * 0.001
	assert.InDelta(t, wantPenalty, res.Meta.TimePenalty, 1e-9)
	assert.InDelta(t, gross-wantPenalty-wantDiscount, res.NetOutput, 1e-9)
	assert.Equal(t, 0.1, res.Meta.SettlementDays)
	assert.Equal(t, 0.001, res.Meta.CounterpartyRisk)
}

func TestScore_NetNeverExceedsGross(t *testing.T) {
	s := New(Params{})
	res := s.Score(1000, "BRL", "EUR", []model.EdgeQuote{otcQuote("otc:x", 2, 0.01)})
	assert.LessOrEqual(t, res.NetOutput, 1000.0)
	assert.GreaterOrEqual(t, res.NetOutput, 0.0)
}

func TestScore_UnknownPairUsesDefaultVol(t *testing.T) {
	s := New(Params{DefaultDailyVol: 0.005})
	res := s.Score(1000, "XXX", "YYY", []model.EdgeQuote{otcQuote("otc:x", 1, 0)})

	// counterparty risk falls back to the 0.001 default for the quote
	wantPenalty := 1000 * 0.005 * 1.0
	assert.InDelta(t, wantPenalty, res.Meta.TimePenalty, 1e-9)
}

func TestScore_EmptyParticipants(t *testing.T) {
	s := New(Params{})
	res := s.Score(1000, "USDC", "USDT", nil)

	assert.Equal(t, 0.0, res.Meta.SettlementDays)
	assert.Equal(t, 0.001, res.Meta.CounterpartyRisk)
	assert.Equal(t, 0.0, res.Meta.TimePenalty)
}

func TestScore_VenueRiskTableFallback(t *testing.T) {
	s := New(Params{VenueRisk: map[string]float64{"otc:braza": 0.002}})
	q := otcQuote("otc:braza", 1, 0)
	q.SettlementMeta.CounterpartyRisk = 0

	res := s.Score(1000, "BRL", "USDC", []model.EdgeQuote{q})
	assert.Equal(t, 0.002, res.Meta.CounterpartyRisk)
}

func TestScore_ConfidenceClamped(t *testing.T) {
	s := New(Params{})

	// Long settlement and high risk drive raw confidence far below 0.5.
	res := s.Score(1000, "BRL", "EUR", []model.EdgeQuote{otcQuote("otc:x", 10, 0.05)})
	assert.Equal(t, 0.5, res.Meta.Confidence)

	// Instant settlement with negligible risk stays just under the 1.0 cap.
	res = s.Score(1000, "USDC", "USDT", []model.EdgeQuote{otcQuote("otc:x", 0, 0.0000001)})
	assert.LessOrEqual(t, res.Meta.Confidence, 1.0)
	assert.Greater(t, res.Meta.Confidence, 0.99)
}

func TestScore_ZeroNetFloor(t *testing.T) {
	s := New(Params{Volatility: map[string]float64{"A/B": 5}})
	res := s.Score(100, "A", "B", []model.EdgeQuote{otcQuote("otc:x", 4, 0.5)})
	assert.Equal(t, 0.0, res.NetOutput)
}

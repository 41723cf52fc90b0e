package scoring

import (
	"math"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

const (
	defaultCounterpartyRisk = 0.001
	riskFactor              = 1.0
)

// Params carries the injectable scoring tables. Volatility keys are
// "FROM/TO" pair strings; venue risk keys are venue IDs.
type Params struct {
	Volatility      map[string]float64
	DefaultDailyVol float64
	VenueRisk       map[string]float64
}

// Scorer discounts a route's gross output by settlement-delay risk and
// counterparty risk.
type Scorer struct {
	params Params
}

func New(params Params) *Scorer {
	if params.DefaultDailyVol == 0 {
		params.DefaultDailyVol = 0.005
	}
	return &Scorer{params: params}
}

// Result is the net output and the metadata explaining the discounts.
type Result struct {
	NetOutput float64
	Meta      model.ScoringMeta
}

// Score computes the net output of a route given the OTC quotes that
// participate in it. The time penalty follows Brownian-motion scaling: the
// exposure over a holding period grows with the square root of its length.
func (s *Scorer) Score(grossOutput float64, fromToken, toToken string, participating []model.EdgeQuote) Result {
	settlementDays := maxSettlementDays(participating)
	avgRisk := s.avgCounterpartyRisk(participating)

	dailyVol, ok := s.params.Volatility[fromToken+"/"+toToken]
	if !ok {
		dailyVol = s.params.DefaultDailyVol
	}

	timePenalty := grossOutput * dailyVol * math.Sqrt(settlementDays) * riskFactor
	counterpartyDiscount := grossOutput * avgRisk

	net := grossOutput - timePenalty - counterpartyDiscount
	if net < 0 {
		net = 0
	}

	confidence := 1 - settlementDays*0.1 - avgRisk*10
	if confidence < 0.5 {
		confidence = 0.5
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		NetOutput: net,
		Meta: model.ScoringMeta{
			SettlementDays:   settlementDays,
			CounterpartyRisk: avgRisk,
			TimePenalty:      timePenalty,
			Confidence:       confidence,
		},
	}
}

func maxSettlementDays(quotes []model.EdgeQuote) float64 {
	var days float64
	for _, q := range quotes {
		if q.SettlementMeta != nil && q.SettlementMeta.SettlementDays > days {
			days = q.SettlementMeta.SettlementDays
		}
	}
	return days
}

// avgCounterpartyRisk averages per-quote risk, falling back to the venue
// default table and finally to the global default (0.001).
func (s *Scorer) avgCounterpartyRisk(quotes []model.EdgeQuote) float64 {
	if len(quotes) == 0 {
		return defaultCounterpartyRisk
	}
	var sum float64
	for _, q := range quotes {
		switch {
		case q.SettlementMeta != nil && q.SettlementMeta.CounterpartyRisk > 0:
			sum += q.SettlementMeta.CounterpartyRisk
		case s.params.VenueRisk[q.VenueID] > 0:
			sum += s.params.VenueRisk[q.VenueID]
		default:
			sum += defaultCounterpartyRisk
		}
	}
	return sum / float64(len(quotes))
}

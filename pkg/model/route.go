package model

// RouteStep is one hop of a route: a single venue conversion.
type RouteStep struct {
	FromToken           string  `json:"fromToken"`
	ToToken             string  `json:"toToken"`
	VenueID             string  `json:"venueId"`
	ChainID             int     `json:"chainId"`
	AmountIn            float64 `json:"amountIn"`
	AmountOut           float64 `json:"amountOut"`
	FeeBps              float64 `json:"feeBps"`
	EstimatedDurationMs int64   `json:"estimatedDurationMs"`
}

// Route is an ordered chain of 1-3 steps converting FromToken into ToToken.
// Adjacent steps connect: steps[i].ToToken == steps[i+1].FromToken and
// steps[i+1].AmountIn == steps[i].AmountOut.
type Route struct {
	FromToken     string      `json:"fromToken"`
	ToToken       string      `json:"toToken"`
	Steps         []RouteStep `json:"steps"`
	TotalIn       float64     `json:"totalIn"`
	TotalOut      float64     `json:"totalOut"`
	EffectiveRate float64     `json:"effectiveRate"`
	TotalFeesBps  float64     `json:"totalFeesBps"`
	Confidence    float64     `json:"confidence"`
	Timestamp     int64       `json:"timestamp"`
}

// QuoteType distinguishes which venue classes a route touches.
type QuoteType string

const (
	QuoteTypeOTC    QuoteType = "OTC"
	QuoteTypeDEX    QuoteType = "DEX"
	QuoteTypeHybrid QuoteType = "OTC+DEX"
)

// TypeOf classifies a route by the venue kinds of its steps.
func (r *Route) TypeOf() QuoteType {
	var otc, dex bool
	for _, s := range r.Steps {
		if IsDEXVenue(s.VenueID) {
			dex = true
		} else {
			otc = true
		}
	}
	switch {
	case otc && dex:
		return QuoteTypeHybrid
	case dex:
		return QuoteTypeDEX
	default:
		return QuoteTypeOTC
	}
}

// IsDEXVenue reports whether a venue ID names an on-chain venue.
func IsDEXVenue(venueID string) bool {
	return len(venueID) >= 4 && venueID[:4] == "dex:"
}

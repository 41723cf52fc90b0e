package provider

import (
	"context"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

// Tier controls which prefetch cadence invokes a provider.
type Tier string

const (
	// TierFast providers are cheap to call (static sets, local DEX streams).
	TierFast Tier = "fast"
	// TierSlow providers are rate-limited upstream feeds.
	TierSlow Tier = "slow"
)

// QuoteProvider produces a snapshot of the edge quotes it knows.
// Implementations are stateless between calls except for optional in-process
// last-known-good caches.
type QuoteProvider interface {
	VenueID() string
	Tier() Tier
	FetchQuotes(ctx context.Context) ([]model.EdgeQuote, error)
}

var stablecoins = map[string]bool{"USDC": true, "USDT": true, "EURC": true}
var emergingFiat = map[string]bool{"BRL": true, "MXN": true, "NGN": true}

// settlementMetaFor derives default settlement characteristics from the
// token classes on either side of an edge.
func settlementMetaFor(from, to string) *model.SettlementMeta {
	meta := &model.SettlementMeta{
		SupportsReservation: false,
		PaymentMethods:      []model.PaymentMethod{model.MethodBankTransfer},
	}
	switch {
	case stablecoins[from] || stablecoins[to]:
		meta.SettlementDays = 0.5
		meta.CounterpartyRisk = 0.0001
	case emergingFiat[from] || emergingFiat[to]:
		meta.SettlementDays = 1
		meta.CounterpartyRisk = 0.001
	default:
		meta.SettlementDays = 0.5
		meta.CounterpartyRisk = 0.0005
	}
	return meta
}

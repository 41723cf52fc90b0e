package provider

import (
	"context"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

const (
	staticOTCExpiry = int64(30_000) // ms
	staticDEXExpiry = int64(5_000)
)

// StaticProvider returns a hand-curated set of OTC and DEX quotes. Used in
// dev environments and as seed liquidity while upstream feeds warm up.
type StaticProvider struct {
	venueID string
	clock   clock.Clock
}

func NewStaticProvider(clk clock.Clock) *StaticProvider {
	return &StaticProvider{venueID: "static", clock: clk}
}

func (p *StaticProvider) VenueID() string { return p.venueID }
func (p *StaticProvider) Tier() Tier      { return TierFast }

func (p *StaticProvider) FetchQuotes(ctx context.Context) ([]model.EdgeQuote, error) {
	now := p.clock.NowMs()

	otc := func(venue, from, to string, in, out, feeBps, maxIn float64, days, risk float64) model.EdgeQuote {
		return model.EdgeQuote{
			VenueID:       venue,
			VenueKind:     model.VenueOTC,
			FromToken:     from,
			ToToken:       to,
			AmountIn:      in,
			AmountOut:     out,
			MaxAmountIn:   maxIn,
			FeeBps:        feeBps,
			ExpiryTs:      now + staticOTCExpiry,
			LastUpdatedTs: now,
			SettlementMeta: &model.SettlementMeta{
				SettlementDays:      days,
				CounterpartyRisk:    risk,
				SupportsReservation: true,
				PaymentMethods:      []model.PaymentMethod{model.MethodBankTransfer},
			},
		}
	}
	dex := func(venue, from, to string, in, out, feeBps float64) model.EdgeQuote {
		return model.EdgeQuote{
			VenueID:       venue,
			VenueKind:     model.VenueDEX,
			FromToken:     from,
			ToToken:       to,
			AmountIn:      in,
			AmountOut:     out,
			FeeBps:        feeBps,
			ExpiryTs:      now + staticDEXExpiry,
			LastUpdatedTs: now,
		}
	}

	return []model.EdgeQuote{
		otc("otc:braza", "BRL", "USDC", 10000, 1960, 40, 500000, 1, 0.001),
		otc("otc:braza", "USDC", "BRL", 2000, 10100, 40, 100000, 1, 0.001),
		otc("otc:rio", "MXN", "USDC", 10000, 540, 35, 400000, 1, 0.0008),
		otc("otc:rio", "USDC", "MXN", 540, 9900, 35, 50000, 1, 0.0008),
		otc("otc:xfx", "USDC", "EUR", 1000, 920, 30, 250000, 0.5, 0.0012),
		otc("otc:xfx", "EUR", "USDC", 920, 990, 30, 250000, 0.5, 0.0012),
		otc("otc:xfx", "EURC", "EUR", 1000, 998, 20, 250000, 0.5, 0.0012),
		dex("dex:orca", "USDC", "USDT", 1000, 999.2, 4),
		dex("dex:orca", "USDT", "USDC", 1000, 999.1, 4),
		dex("dex:raydium", "USDC", "EURC", 1000, 921.5, 20),
		dex("dex:raydium", "EURC", "USDC", 921, 998.0, 20),
	}, nil
}

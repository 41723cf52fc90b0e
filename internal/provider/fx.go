package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/httpclient"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

const fxQuoteExpiryMs = int64(60_000)

// fxRate is the wire shape returned by the upstream FX feed for one pair.
type fxRate struct {
	Pair string  `json:"pair"` // "USD/BRL"
	Ask  float64 `json:"ask"`
	Bid  float64 `json:"bid"`
	Mid  float64 `json:"mid"`
}

// FXProvider pulls real-time FX rates one pair per request. The upstream
// feed is strictly rate limited, so consecutive pair fetches within a cycle
// are paced by the executor's limiter. Partial outages degrade to the
// last-known-good snapshot.
type FXProvider struct {
	venueID string
	logger  *zap.Logger
	exec    *httpclient.Executor
	clock   clock.Clock
	baseURL string
	apiKey  string
	pairs   [][2]string
	lkg     *lkgCache
}

// NewFXProvider constructs a single-pair-per-request FX provider. Pairs are
// "FROM:TO" (or "FROM/TO") strings, e.g. "USD:BRL".
func NewFXProvider(logger *zap.Logger, clk clock.Clock, exec *httpclient.Executor, baseURL, apiKey string, pairs []string) *FXProvider {
	return &FXProvider{
		venueID: "fx:spot",
		logger:  logger,
		exec:    exec,
		clock:   clk,
		baseURL: baseURL,
		apiKey:  apiKey,
		pairs:   parsePairs(pairs),
		lkg:     newLKGCache(),
	}
}

func (p *FXProvider) VenueID() string { return p.venueID }
func (p *FXProvider) Tier() Tier      { return TierSlow }

// FetchQuotes retrieves every configured pair sequentially, synthesising
// inverse edges where the inverse pair is not separately configured, then
// merges the cycle over the last-known-good cache.
func (p *FXProvider) FetchQuotes(ctx context.Context) ([]model.EdgeQuote, error) {
	var fresh []model.EdgeQuote
	failed := 0

	for _, pair := range p.pairs {
		rate, err := p.fetchPair(ctx, pair[0], pair[1])
		if err != nil {
			failed++
			p.logger.Warn("fx.pair_fetch_failed",
				zap.String("from", pair[0]),
				zap.String("to", pair[1]),
				zap.Error(err))
			continue
		}
		fresh = append(fresh, p.mapRate(pair[0], pair[1], rate)...)
	}

	if len(fresh) == 0 {
		if p.lkg.size() > 0 {
			p.logger.Warn("fx.cycle_failed_serving_last_known_good",
				zap.Int("pairs_failed", failed),
				zap.Int("cached", p.lkg.size()))
			return p.lkg.snapshot(), nil
		}
		return nil, nil
	}

	if failed > 0 {
		p.logger.Warn("fx.partial_cycle_merged_with_cache",
			zap.Int("pairs_failed", failed),
			zap.Int("fresh_quotes", len(fresh)))
	}
	return p.lkg.merge(fresh), nil
}

func (p *FXProvider) fetchPair(ctx context.Context, from, to string) (*fxRate, error) {
	u := fmt.Sprintf("%s/v1/rates?pair=%s", p.baseURL, url.QueryEscape(from+"/"+to))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	var rate fxRate
	if err := p.exec.DoJSON(ctx, req, p.venueID, &rate); err != nil {
		return nil, err
	}
	if rate.Ask <= 0 || rate.Bid <= 0 || rate.Mid <= 0 {
		return nil, fmt.Errorf("fx: degenerate rate for %s/%s", from, to)
	}
	return &rate, nil
}

// mapRate turns one bid/ask/mid observation into a direct edge quote and,
// unless the inverse pair is separately configured, a synthesised inverse.
func (p *FXProvider) mapRate(from, to string, r *fxRate) []model.EdgeQuote {
	now := p.clock.NowMs()
	quotes := []model.EdgeQuote{fxEdge(p.venueID, from, to, r.Ask, r.Bid, r.Mid, now)}

	if !p.hasPair(to, from) {
		invAsk := 1 / r.Bid
		invBid := 1 / r.Ask
		invMid := 1 / r.Mid
		quotes = append(quotes, fxEdge(p.venueID, to, from, invAsk, invBid, invMid, now))
	}
	return quotes
}

func (p *FXProvider) hasPair(from, to string) bool {
	for _, pair := range p.pairs {
		if pair[0] == from && pair[1] == to {
			return true
		}
	}
	return false
}

// fxEdge builds the edge quote for one direction: unit size, output at ask,
// half the bid/ask spread charged as the fee.
func fxEdge(venueID, from, to string, ask, bid, mid float64, now int64) model.EdgeQuote {
	spreadBps := (ask - bid) / mid * 10000
	return model.EdgeQuote{
		VenueID:        venueID,
		VenueKind:      model.VenueFX,
		FromToken:      from,
		ToToken:        to,
		AmountIn:       1,
		AmountOut:      ask,
		FeeBps:         math.Round(spreadBps / 2),
		ExpiryTs:       now + fxQuoteExpiryMs,
		LastUpdatedTs:  now,
		SettlementMeta: settlementMetaFor(from, to),
	}
}

func parsePairs(raw []string) [][2]string {
	out := make([][2]string, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(strings.ReplaceAll(r, "/", ":"), ":", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, [2]string{strings.ToUpper(strings.TrimSpace(parts[0])), strings.ToUpper(strings.TrimSpace(parts[1]))})
	}
	return out
}

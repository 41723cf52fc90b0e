package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/httpclient"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// BatchFXProvider pulls all configured pairs in a single upstream request.
// Pairs missing from the response are treated as failed and degrade to the
// last-known-good snapshot, same as the single-pair feed.
type BatchFXProvider struct {
	venueID string
	logger  *zap.Logger
	exec    *httpclient.Executor
	clock   clock.Clock
	baseURL string
	apiKey  string
	pairs   [][2]string
	lkg     *lkgCache
}

type fxBatchResponse struct {
	Rates []fxRate `json:"rates"`
}

func NewBatchFXProvider(logger *zap.Logger, clk clock.Clock, exec *httpclient.Executor, baseURL, apiKey string, pairs []string) *BatchFXProvider {
	return &BatchFXProvider{
		venueID: "fx:batch",
		logger:  logger,
		exec:    exec,
		clock:   clk,
		baseURL: baseURL,
		apiKey:  apiKey,
		pairs:   parsePairs(pairs),
		lkg:     newLKGCache(),
	}
}

func (p *BatchFXProvider) VenueID() string { return p.venueID }
func (p *BatchFXProvider) Tier() Tier      { return TierSlow }

func (p *BatchFXProvider) FetchQuotes(ctx context.Context) ([]model.EdgeQuote, error) {
	resp, err := p.fetchBatch(ctx)
	if err != nil {
		if p.lkg.size() > 0 {
			p.logger.Warn("fx_batch.cycle_failed_serving_last_known_good",
				zap.Int("cached", p.lkg.size()),
				zap.Error(err))
			return p.lkg.snapshot(), nil
		}
		p.logger.Warn("fx_batch.cycle_failed_empty_cache", zap.Error(err))
		return nil, nil
	}

	byPair := make(map[string]fxRate, len(resp.Rates))
	for _, r := range resp.Rates {
		byPair[strings.ToUpper(r.Pair)] = r
	}

	now := p.clock.NowMs()
	var fresh []model.EdgeQuote
	missing := 0
	for _, pair := range p.pairs {
		r, ok := byPair[pair[0]+"/"+pair[1]]
		if !ok || r.Ask <= 0 || r.Bid <= 0 || r.Mid <= 0 {
			missing++
			continue
		}
		fresh = append(fresh, fxEdge(p.venueID, pair[0], pair[1], r.Ask, r.Bid, r.Mid, now))
		if !p.hasPair(pair[1], pair[0]) {
			fresh = append(fresh, fxEdge(p.venueID, pair[1], pair[0], 1/r.Bid, 1/r.Ask, 1/r.Mid, now))
		}
	}

	if missing > 0 {
		p.logger.Warn("fx_batch.pairs_missing_from_response",
			zap.Int("missing", missing),
			zap.Int("fresh_quotes", len(fresh)))
	}
	if len(fresh) == 0 && p.lkg.size() > 0 {
		return p.lkg.snapshot(), nil
	}
	return p.lkg.merge(fresh), nil
}

func (p *BatchFXProvider) fetchBatch(ctx context.Context) (*fxBatchResponse, error) {
	pairParams := make([]string, 0, len(p.pairs))
	for _, pair := range p.pairs {
		pairParams = append(pairParams, pair[0]+"/"+pair[1])
	}
	u := fmt.Sprintf("%s/v1/rates/batch?pairs=%s", p.baseURL, url.QueryEscape(strings.Join(pairParams, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	var resp fxBatchResponse
	if err := p.exec.DoJSON(ctx, req, p.venueID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *BatchFXProvider) hasPair(from, to string) bool {
	for _, pair := range p.pairs {
		if pair[0] == from && pair[1] == to {
			return true
		}
	}
	return false
}

package router

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/edgecache"
	"github.com/bearing-technology/routing-backend/internal/metrics"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

const (
	dexChainID        = 101
	dexStepDurationMs = 30_000
	maxThreeHopMids   = 2
)

// Router resolves (amount, from, to) requests into the best reachable route
// of 1-3 hops over the current edge cache. It is stateless between requests;
// each call tracks its own best candidate.
type Router struct {
	cache                *edgecache.Cache
	clock                clock.Clock
	logger               *zap.Logger
	defaultIntermediates []string
}

func New(cache *edgecache.Cache, clk clock.Clock, logger *zap.Logger, defaultIntermediates []string) *Router {
	if len(defaultIntermediates) == 0 {
		defaultIntermediates = []string{"USDC", "USDT", "EURC"}
	}
	return &Router{
		cache:                cache,
		clock:                clk,
		logger:               logger,
		defaultIntermediates: defaultIntermediates,
	}
}

// BestRoute returns the route with maximum total output, or nil when the
// pair is unreachable. Internal failures are contained: the router logs and
// reports no route rather than propagating an error.
func (r *Router) BestRoute(ctx context.Context, amountIn float64, from, to string, intermediates []string, minExpiryMs int64) (route *model.Route, considered int) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router.enumeration_panic",
				zap.String("from", from),
				zap.String("to", to),
				zap.Any("panic", rec))
			route, considered = nil, 0
		}
	}()

	start := time.Now()
	route, considered, err := r.search(ctx, amountIn, from, to, intermediates, minExpiryMs)
	if err != nil {
		r.logger.Warn("router.enumeration_failed",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return nil, 0
	}
	if route != nil {
		metrics.ObserveDuration(metrics.RouteDiscoveryDuration, start, strconv.Itoa(len(route.Steps)))
	}
	return route, considered
}

func (r *Router) search(ctx context.Context, amountIn float64, from, to string, intermediates []string, minExpiryMs int64) (*model.Route, int, error) {
	mids := r.candidateMids(from, to, intermediates)

	// Collect every pair the enumeration can touch, then load them all
	// concurrently. Enumeration itself is CPU-light and runs after.
	pairs := map[[2]string]bool{{from, to}: true}
	for _, mid := range mids {
		pairs[[2]string{from, mid}] = true
		pairs[[2]string{mid, to}] = true
	}
	for _, hop := range threeHopMids(mids) {
		pairs[[2]string{from, hop[0]}] = true
		pairs[[2]string{hop[0], hop[1]}] = true
		pairs[[2]string{hop[1], to}] = true
	}

	edges, considered, err := r.loadPairs(ctx, pairs)
	if err != nil {
		return nil, 0, err
	}

	cutoff := r.clock.NowMs() + minExpiryMs
	var best *model.Route

	consider := func(steps []model.RouteStep) {
		route := buildRoute(from, to, amountIn, steps, r.clock.NowMs())
		if best == nil || route.TotalOut > best.TotalOut {
			best = route
		}
	}

	// 1-hop
	for i := range edges[[2]string{from, to}] {
		q := &edges[[2]string{from, to}][i]
		if step, ok := legStep(q, amountIn, cutoff); ok {
			consider([]model.RouteStep{step})
		}
	}

	// 2-hop through each candidate intermediary
	for _, mid := range mids {
		for i := range edges[[2]string{from, mid}] {
			q1 := &edges[[2]string{from, mid}][i]
			step1, ok := legStep(q1, amountIn, cutoff)
			if !ok {
				continue
			}
			for j := range edges[[2]string{mid, to}] {
				q2 := &edges[[2]string{mid, to}][j]
				if step2, ok := legStep(q2, step1.AmountOut, cutoff); ok {
					consider([]model.RouteStep{step1, step2})
				}
			}
		}
	}

	// 3-hop through ordered pairs of the first two candidate intermediaries
	for _, hop := range threeHopMids(mids) {
		m1, m2 := hop[0], hop[1]
		for i := range edges[[2]string{from, m1}] {
			q1 := &edges[[2]string{from, m1}][i]
			step1, ok := legStep(q1, amountIn, cutoff)
			if !ok {
				continue
			}
			for j := range edges[[2]string{m1, m2}] {
				q2 := &edges[[2]string{m1, m2}][j]
				step2, ok := legStep(q2, step1.AmountOut, cutoff)
				if !ok {
					continue
				}
				for k := range edges[[2]string{m2, to}] {
					q3 := &edges[[2]string{m2, to}][k]
					if step3, ok := legStep(q3, step2.AmountOut, cutoff); ok {
						consider([]model.RouteStep{step1, step2, step3})
					}
				}
			}
		}
	}

	return best, considered, nil
}

// candidateMids returns the intermediary set for the request, defaulting to
// the configured stablecoin bridges and skipping the endpoints themselves.
func (r *Router) candidateMids(from, to string, intermediates []string) []string {
	candidates := intermediates
	if len(candidates) == 0 {
		candidates = r.defaultIntermediates
	}
	mids := make([]string, 0, len(candidates))
	for _, mid := range candidates {
		if mid == from || mid == to {
			continue
		}
		mids = append(mids, mid)
	}
	return mids
}

// threeHopMids bounds the 3-hop search to ordered pairs drawn from the first
// two candidate intermediaries.
func threeHopMids(mids []string) [][2]string {
	if len(mids) < 2 {
		return nil
	}
	head := mids[:maxThreeHopMids]
	return [][2]string{{head[0], head[1]}, {head[1], head[0]}}
}

// loadPairs fetches the live quotes for every pair concurrently.
func (r *Router) loadPairs(ctx context.Context, pairs map[[2]string]bool) (map[[2]string][]model.EdgeQuote, int, error) {
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		loadErr    error
		edges      = make(map[[2]string][]model.EdgeQuote, len(pairs))
		considered int
	)
	for pair := range pairs {
		wg.Add(1)
		go func(pair [2]string) {
			defer wg.Done()
			quotes, err := r.cache.GetCachedByPair(ctx, pair[0], pair[1])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if loadErr == nil {
					loadErr = fmt.Errorf("load edges %s->%s: %w", pair[0], pair[1], err)
				}
				return
			}
			edges[pair] = quotes
			considered += len(quotes)
		}(pair)
	}
	wg.Wait()

	if loadErr != nil {
		return nil, 0, loadErr
	}
	return edges, considered, nil
}

// legStep applies the per-leg filter to a quote and materialises the step:
// the quote must outlive the expiry cutoff, admit the amount, and produce
// strictly positive output.
func legStep(q *model.EdgeQuote, amountIn float64, expiryCutoff int64) (model.RouteStep, bool) {
	if q.ExpiryTs <= expiryCutoff {
		return model.RouteStep{}, false
	}
	if q.MaxAmountIn > 0 && amountIn > q.MaxAmountIn {
		return model.RouteStep{}, false
	}
	out := q.Output(amountIn)
	if out <= 0 {
		return model.RouteStep{}, false
	}

	step := model.RouteStep{
		FromToken: q.FromToken,
		ToToken:   q.ToToken,
		VenueID:   q.VenueID,
		AmountIn:  amountIn,
		AmountOut: out,
		FeeBps:    q.FeeBps,
	}
	if model.IsDEXVenue(q.VenueID) {
		step.ChainID = dexChainID
		step.EstimatedDurationMs = dexStepDurationMs
	}
	return step, true
}

// buildRoute assembles the aggregate view of a step chain. TotalFeesBps is
// the sum of per-step fees, a telemetry summary never re-applied to output.
func buildRoute(from, to string, amountIn float64, steps []model.RouteStep, now int64) *model.Route {
	totalOut := steps[len(steps)-1].AmountOut
	var feeSum float64
	for _, s := range steps {
		feeSum += s.FeeBps
	}
	return &model.Route{
		FromToken:     from,
		ToToken:       to,
		Steps:         steps,
		TotalIn:       amountIn,
		TotalOut:      totalOut,
		EffectiveRate: totalOut / amountIn,
		TotalFeesBps:  feeSum,
		Confidence:    1,
		Timestamp:     now,
	}
}

package router

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/edgecache"
	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

func newTestRouter(t *testing.T) (*Router, *edgecache.Cache, *clock.Manual) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := kvstore.NewRedisWithClient(rdb, nil)
	clk := clock.NewManual(1_700_000_000_000)
	cache := edgecache.New(st, clk, nil)
	return New(cache, clk, zap.NewNop(), nil), cache, clk
}

func seed(t *testing.T, cache *edgecache.Cache, q model.EdgeQuote) {
	t.Helper()
	require.NoError(t, cache.PutQuote(context.Background(), &q))
}

func quote(venue string, kind model.VenueKind, from, to string, in, out, feeBps float64, clk *clock.Manual) model.EdgeQuote {
	now := clk.NowMs()
	return model.EdgeQuote{
		VenueID:       venue,
		VenueKind:     kind,
		FromToken:     from,
		ToToken:       to,
		AmountIn:      in,
		AmountOut:     out,
		FeeBps:        feeBps,
		ExpiryTs:      now + 30_000,
		LastUpdatedTs: now,
	}
}

func TestBestRoute_DirectOTC(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	seed(t, cache, quote("otc:x", model.VenueOTC, "USDC", "EUR", 1000, 920, 30, clk))

	route, considered := rt.BestRoute(context.Background(), 1000, "USDC", "EUR", nil, 0)
	require.NotNil(t, route)
	assert.GreaterOrEqual(t, considered, 1)
	require.Len(t, route.Steps, 1)

	// 920 gross less 30 bps fee
	assert.InDelta(t, 920-920*0.003, route.TotalOut, 1e-9)
	assert.Equal(t, 1000.0, route.TotalIn)
	assert.Equal(t, 30.0, route.TotalFeesBps)
	assert.Equal(t, 0, route.Steps[0].ChainID)
}

func TestBestRoute_TwoHopViaStablecoin(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	seed(t, cache, quote("otc:1", model.VenueOTC, "BRL", "USDC", 10000, 2000, 40, clk))
	seed(t, cache, quote("otc:2", model.VenueOTC, "USDC", "EUR", 2000, 1840, 30, clk))

	route, _ := rt.BestRoute(context.Background(), 10000, "BRL", "EUR", nil, 0)
	require.NotNil(t, route)
	require.Len(t, route.Steps, 2)

	expected := 10000 * 0.20 * 0.996 * 0.92 * 0.997
	assert.InDelta(t, expected, route.TotalOut, 0.01)
	assert.Equal(t, 70.0, route.TotalFeesBps)

	// Step chaining invariants
	assert.Equal(t, route.Steps[0].ToToken, route.Steps[1].FromToken)
	assert.Equal(t, route.Steps[0].AmountOut, route.Steps[1].AmountIn)
}

func TestBestRoute_ThreeHopWithDEXMiddle(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	seed(t, cache, quote("otc:1", model.VenueOTC, "BRL", "USDC", 10000, 2000, 40, clk))
	seed(t, cache, quote("dex:raydium", model.VenueDEX, "USDC", "EURC", 1000, 921, 20, clk))
	seed(t, cache, quote("otc:2", model.VenueOTC, "EURC", "EUR", 1000, 998, 20, clk))

	route, _ := rt.BestRoute(context.Background(), 10000, "BRL", "EUR", []string{"USDC", "EURC"}, 0)
	require.NotNil(t, route)
	require.Len(t, route.Steps, 3)

	assert.Equal(t, 101, route.Steps[1].ChainID)
	assert.Equal(t, int64(30_000), route.Steps[1].EstimatedDurationMs)
	assert.Equal(t, 0, route.Steps[0].ChainID)
	assert.Equal(t, 0, route.Steps[2].ChainID)
}

func TestBestRoute_UnknownPair(t *testing.T) {
	rt, _, _ := newTestRouter(t)

	route, considered := rt.BestRoute(context.Background(), 100, "NGN", "JPY", []string{}, 0)
	assert.Nil(t, route)
	assert.Equal(t, 0, considered)
}

func TestBestRoute_MaxAmountInRespected(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	q := quote("otc:x", model.VenueOTC, "USDC", "EUR", 1000, 920, 30, clk)
	q.MaxAmountIn = 5000
	seed(t, cache, q)

	route, _ := rt.BestRoute(context.Background(), 10000, "USDC", "EUR", nil, 0)
	assert.Nil(t, route)

	route, _ = rt.BestRoute(context.Background(), 4000, "USDC", "EUR", nil, 0)
	assert.NotNil(t, route)
}

func TestBestRoute_MinExpiryFilter(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	q := quote("otc:x", model.VenueOTC, "USDC", "EUR", 1000, 920, 30, clk)
	q.ExpiryTs = clk.NowMs() + 3_000
	seed(t, cache, q)

	route, _ := rt.BestRoute(context.Background(), 1000, "USDC", "EUR", nil, 5000)
	assert.Nil(t, route)

	route, _ = rt.BestRoute(context.Background(), 1000, "USDC", "EUR", nil, 0)
	assert.NotNil(t, route)
}

func TestBestRoute_PicksHigherOutput(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	seed(t, cache, quote("otc:cheap", model.VenueOTC, "USDC", "EUR", 1000, 915, 0, clk))
	seed(t, cache, quote("otc:rich", model.VenueOTC, "USDC", "EUR", 1000, 920, 0, clk))

	route, _ := rt.BestRoute(context.Background(), 1000, "USDC", "EUR", nil, 0)
	require.NotNil(t, route)
	assert.Equal(t, "otc:rich", route.Steps[0].VenueID)
}

func TestBestRoute_SkipsEndpointIntermediates(t *testing.T) {
	rt, cache, clk := newTestRouter(t)
	seed(t, cache, quote("otc:x", model.VenueOTC, "USDC", "EUR", 1000, 920, 30, clk))

	// USDC appears both as the source and in the intermediate set; it must
	// not be treated as a hop.
	route, _ := rt.BestRoute(context.Background(), 1000, "USDC", "EUR", []string{"USDC", "EUR"}, 0)
	require.NotNil(t, route)
	assert.Len(t, route.Steps, 1)
}

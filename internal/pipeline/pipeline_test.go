package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// --- test doubles ---

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type stubOTCClient struct {
	meta *model.OTCReservationMeta
	err  error
}

func (c *stubOTCClient) Reserve(ctx context.Context, route *model.Route, clientID string) (*model.OTCReservationMeta, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.meta, nil
}

type stubStepExecutor struct {
	mu      sync.Mutex
	calls   []model.RouteStep
	execute func(step model.RouteStep) (string, error)
}

func (e *stubStepExecutor) Execute(ctx context.Context, step model.RouteStep) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, step)
	e.mu.Unlock()
	if e.execute != nil {
		return e.execute(step)
	}
	return "0xhash-" + step.VenueID, nil
}

type testEnv struct {
	pipe  *Pipeline
	store kvstore.Store
	clk   *clock.Manual
	pub   *recordingPublisher
	exec  *stubStepExecutor
	mr    *miniredis.Miniredis
}

func newTestPipeline(t *testing.T, otc OTCReservationClient) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := kvstore.NewRedisWithClient(rdb, nil)
	clk := clock.NewManual(1_700_000_000_000)
	pub := &recordingPublisher{}
	exec := &stubStepExecutor{}

	cfg := Config{
		ProvisionalTTL: 15 * time.Second,
		ReservedTTL:    300 * time.Second,
		DepositTTL:     3600 * time.Second,
		ExecutionTTL:   86400 * time.Second,
		Treasury: TreasuryDetails{
			PixKey:       "treasury@test",
			SpeiClabe:    "646180157000000004",
			BankAccount:  "0012345678",
			BankName:     "Test Bank",
			BankRouting:  "026009593",
			MerchantName: "TEST MERCHANT",
			MerchantCity: "SAO PAULO",
		},
	}

	pipe := New(st, clk, nil, cfg, otc, pub, nil, exec)
	return &testEnv{pipe: pipe, store: st, clk: clk, pub: pub, exec: exec, mr: mr}
}

// otcRoute is a two-step OTC route fixture (BRL -> USDC -> EUR).
func otcRoute() *model.Route {
	return &model.Route{
		FromToken: "BRL",
		ToToken:   "EUR",
		Steps: []model.RouteStep{
			{FromToken: "BRL", ToToken: "USDC", VenueID: "otc:1", AmountIn: 10000, AmountOut: 1992, FeeBps: 40},
			{FromToken: "USDC", ToToken: "EUR", VenueID: "otc:2", AmountIn: 1992, AmountOut: 1827.14, FeeBps: 30},
		},
		TotalIn:       10000,
		TotalOut:      1827.14,
		EffectiveRate: 0.182714,
		TotalFeesBps:  70,
		Confidence:    0.9,
	}
}

// dexRoute is a pure on-chain route fixture.
func dexRoute() *model.Route {
	return &model.Route{
		FromToken: "USDC",
		ToToken:   "USDT",
		Steps: []model.RouteStep{
			{FromToken: "USDC", ToToken: "USDT", VenueID: "dex:orca", ChainID: 101, AmountIn: 1000, AmountOut: 999.2, FeeBps: 4, EstimatedDurationMs: 30000},
		},
		TotalIn:      1000,
		TotalOut:     999.2,
		TotalFeesBps: 4,
	}
}

func storeProvisional(t *testing.T, env *testEnv, route *model.Route) *model.ProvisionalQuote {
	t.Helper()
	meta := model.ScoringMeta{SettlementDays: 1, CounterpartyRisk: 0.001, TimePenalty: 5, Confidence: 0.9}
	quoteType := model.QuoteTypeOTC
	if route != nil {
		quoteType = route.TypeOf()
	}
	var totalIn, totalOut, fees float64
	if route != nil {
		totalIn, totalOut, fees = route.TotalIn, route.TotalOut, route.TotalFeesBps
	}
	prov, err := env.pipe.StoreProvisional(context.Background(), route, totalIn, totalOut, totalOut*0.995, fees, meta, quoteType)
	require.NoError(t, err)
	return prov
}

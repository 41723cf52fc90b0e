package provider

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

const dexQuoteExpiryMs = int64(5_000)

// dexPoolUpdate is one pool price message from the venue stream.
type dexPoolUpdate struct {
	Pool      string  `json:"pool"` // venue pool id, e.g. "orca:usdc-usdt"
	FromToken string  `json:"fromToken"`
	ToToken   string  `json:"toToken"`
	AmountIn  float64 `json:"amountIn"`
	AmountOut float64 `json:"amountOut"`
	FeeBps    float64 `json:"feeBps"`
}

// DEXStreamProvider subscribes to an on-chain venue's price stream over
// websocket and keeps the latest observation per pool. FetchQuotes snapshots
// the live map; the stream itself runs on its own goroutine.
type DEXStreamProvider struct {
	venueID string
	logger  *zap.Logger
	clock   clock.Clock
	url     string

	mu     sync.RWMutex
	latest map[string]dexPoolUpdate

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDEXStreamProvider(logger *zap.Logger, clk clock.Clock, streamURL string) *DEXStreamProvider {
	return &DEXStreamProvider{
		venueID: "dex:stream",
		logger:  logger,
		clock:   clk,
		url:     streamURL,
		latest:  make(map[string]dexPoolUpdate),
		stopCh:  make(chan struct{}),
	}
}

func (p *DEXStreamProvider) VenueID() string { return p.venueID }
func (p *DEXStreamProvider) Tier() Tier      { return TierFast }

// Start launches the stream reader. Reconnects with backoff until Stop.
func (p *DEXStreamProvider) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		backoff := time.Second
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := p.readLoop(ctx); err != nil {
				p.logger.Warn("dex_stream.disconnected",
					zap.String("url", p.url),
					zap.Duration("retry_in", backoff),
					zap.Error(err))
			}

			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// Stop signals the reader to exit and waits for it.
func (p *DEXStreamProvider) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *DEXStreamProvider) readLoop(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(map[string]string{"op": "subscribe", "channel": "pools"}); err != nil {
		return err
	}
	p.logger.Info("dex_stream.connected", zap.String("url", p.url))

	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var update dexPoolUpdate
		if err := conn.ReadJSON(&update); err != nil {
			return err
		}
		if update.AmountIn <= 0 || update.AmountOut <= 0 {
			continue
		}

		p.mu.Lock()
		p.latest[update.Pool] = update
		p.mu.Unlock()
	}
}

// FetchQuotes snapshots the latest pool observations into short-lived DEX edges.
func (p *DEXStreamProvider) FetchQuotes(ctx context.Context) ([]model.EdgeQuote, error) {
	now := p.clock.NowMs()

	p.mu.RLock()
	defer p.mu.RUnlock()

	quotes := make([]model.EdgeQuote, 0, len(p.latest))
	for pool, u := range p.latest {
		quotes = append(quotes, model.EdgeQuote{
			VenueID:       "dex:" + pool,
			VenueKind:     model.VenueDEX,
			FromToken:     u.FromToken,
			ToToken:       u.ToToken,
			AmountIn:      u.AmountIn,
			AmountOut:     u.AmountOut,
			FeeBps:        u.FeeBps,
			ExpiryTs:      now + dexQuoteExpiryMs,
			LastUpdatedTs: now,
		})
	}
	return quotes, nil
}

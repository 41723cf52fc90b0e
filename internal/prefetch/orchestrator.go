package prefetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/edgecache"
	"github.com/bearing-technology/routing-backend/internal/metrics"
	"github.com/bearing-technology/routing-backend/internal/provider"
)

// Orchestrator drives two independent prefetch cadences over the configured
// quote providers and writes the returned snapshots into the edge cache.
// A cycle waits for its in-flight provider calls before the next tick is
// honored; it never cancels them at the period boundary.
type Orchestrator struct {
	logger     *zap.Logger
	cache      *edgecache.Cache
	providers  []provider.QuoteProvider
	fastPeriod time.Duration
	slowPeriod time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func New(logger *zap.Logger, cache *edgecache.Cache, providers []provider.QuoteProvider, fastPeriod, slowPeriod time.Duration) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		cache:      cache,
		providers:  providers,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		stopCh:     make(chan struct{}),
	}
}

// Start launches both tier loops. Slow-tier providers are fetched eagerly
// once so the cache is warm before the first router request.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runTier(ctx, provider.TierSlow)

	o.wg.Add(2)
	go o.loop(ctx, provider.TierFast, o.fastPeriod)
	go o.loop(ctx, provider.TierSlow, o.slowPeriod)
}

// Stop signals both loops to exit and waits for in-flight cycles.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, tier provider.Tier, period time.Duration) {
	defer o.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	o.logger.Info("prefetch.tier_started",
		zap.String("tier", string(tier)),
		zap.Duration("period", period))

	for {
		select {
		case <-ticker.C:
			o.runTier(ctx, tier)
		case <-o.stopCh:
			o.logger.Info("prefetch.tier_stopped", zap.String("tier", string(tier)))
			return
		case <-ctx.Done():
			o.logger.Info("prefetch.tier_stopped", zap.String("tier", string(tier)))
			return
		}
	}
}

// runTier invokes every provider of the tier concurrently and writes each
// snapshot through the edge cache. Per-provider failures do not cancel
// sibling invocations.
func (o *Orchestrator) runTier(ctx context.Context, tier provider.Tier) {
	start := time.Now()
	var wg sync.WaitGroup
	for _, p := range o.providers {
		if p.Tier() != tier {
			continue
		}
		wg.Add(1)
		go func(p provider.QuoteProvider) {
			defer wg.Done()
			o.fetchOne(ctx, p)
		}(p)
	}
	wg.Wait()

	o.logger.Debug("prefetch.cycle_complete",
		zap.String("tier", string(tier)),
		zap.Duration("elapsed", time.Since(start)))
}

func (o *Orchestrator) fetchOne(ctx context.Context, p provider.QuoteProvider) {
	quotes, err := p.FetchQuotes(ctx)
	if err != nil {
		metrics.IncProviderFetch(p.VenueID(), "error")
		o.logger.Warn("prefetch.provider_failed",
			zap.String("venue", p.VenueID()),
			zap.Error(err))
		return
	}
	if len(quotes) == 0 {
		metrics.IncProviderFetch(p.VenueID(), "empty")
		return
	}

	if err := o.cache.PutQuoteBatch(ctx, quotes); err != nil {
		metrics.IncProviderFetch(p.VenueID(), "write_error")
		o.logger.Warn("prefetch.cache_write_failed",
			zap.String("venue", p.VenueID()),
			zap.Int("quotes", len(quotes)),
			zap.Error(err))
		return
	}

	metrics.IncProviderFetch(p.VenueID(), "ok")
	metrics.SetLastPrefetch(p.VenueID(), time.Now())
	o.logger.Debug("prefetch.provider_complete",
		zap.String("venue", p.VenueID()),
		zap.Int("quotes", len(quotes)))
}

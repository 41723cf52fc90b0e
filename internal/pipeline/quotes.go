package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/internal/metrics"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// StoreProvisional records a scored route under a fresh quote ID with the
// provisional TTL. Route may be nil when no path was found; such quotes are
// addressable but cannot be reserved.
func (p *Pipeline) StoreProvisional(
	ctx context.Context,
	route *model.Route,
	amountIn, grossOut, netOut, feeBps float64,
	meta model.ScoringMeta,
	quoteType model.QuoteType,
) (*model.ProvisionalQuote, error) {
	now := p.clock.NowMs()
	quote := &model.ProvisionalQuote{
		QuoteID:      uuid.NewString(),
		Route:        route,
		AmountIn:     amountIn,
		AmountOut:    grossOut,
		NetAmountOut: netOut,
		FeeBps:       feeBps,
		ExpiryTs:     now + p.cfg.ProvisionalTTL.Milliseconds(),
		CreatedTs:    now,
		Type:         quoteType,
		ScoringMeta:  meta,
	}

	data, err := json.Marshal(quote)
	if err != nil {
		return nil, fmt.Errorf("marshal provisional quote: %w", err)
	}
	if err := p.store.Set(ctx, keyProvisional+quote.QuoteID, string(data), p.cfg.ProvisionalTTL); err != nil {
		return nil, fmt.Errorf("store provisional quote: %w", err)
	}

	p.publish(ctx, "evt.routing.quote.created.v1", quote)
	return quote, nil
}

// GetProvisional returns the provisional quote, treating an expired record
// as absent even if the store has not evicted it yet.
func (p *Pipeline) GetProvisional(ctx context.Context, quoteID string) (*model.ProvisionalQuote, error) {
	data, err := p.store.Get(ctx, keyProvisional+quoteID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var quote model.ProvisionalQuote
	if err := json.Unmarshal([]byte(data), &quote); err != nil {
		return nil, fmt.Errorf("parse provisional quote: %w", err)
	}
	if p.clock.NowMs() >= quote.ExpiryTs {
		return nil, ErrNotFound
	}
	return &quote, nil
}

// Reserve promotes a provisional quote to reserved. The reserved key is
// claimed with SETNX so a racing second reserve loses; the provisional key
// is deleted after the reserved write, and consumers prefer the reserved
// key during the brief window in which both exist.
func (p *Pipeline) Reserve(ctx context.Context, quoteID, clientID string) (*model.ReservedQuote, error) {
	prov, err := p.GetProvisional(ctx, quoteID)
	if err != nil {
		metrics.IncPipelineTransition("reserve", "not_found")
		return nil, err
	}
	if prov.Route == nil {
		metrics.IncPipelineTransition("reserve", "no_route")
		return nil, ErrNoRoute
	}

	now := p.clock.NowMs()
	reserved := &model.ReservedQuote{
		ProvisionalQuote: *prov,
		ReservationID:    uuid.NewString(),
		ReservedByClient: clientID,
		ReservedUntilTs:  now + p.cfg.ReservedTTL.Milliseconds(),
	}

	if prov.Type == model.QuoteTypeOTC || prov.Type == model.QuoteTypeHybrid {
		reserved.OTCReservation = p.reserveOTC(ctx, prov.Route, clientID)
	}

	data, err := json.Marshal(reserved)
	if err != nil {
		return nil, fmt.Errorf("marshal reserved quote: %w", err)
	}

	won, err := p.store.SetNX(ctx, keyReserved+quoteID, string(data), p.cfg.ReservedTTL)
	if err != nil {
		return nil, fmt.Errorf("claim reserved quote: %w", err)
	}
	if !won {
		// A sibling reservation already exists for this quote.
		metrics.IncPipelineTransition("reserve", "lost_race")
		return nil, ErrNotFound
	}

	if err := p.store.Del(ctx, keyProvisional+quoteID); err != nil {
		p.logger.Warn("pipeline.provisional_delete_failed",
			zap.String("quote_id", quoteID),
			zap.Error(err))
	}

	metrics.IncPipelineTransition("reserve", "ok")
	p.publish(ctx, "evt.routing.quote.reserved.v1", reserved)
	p.logger.Info("pipeline.quote_reserved",
		zap.String("quote_id", quoteID),
		zap.String("reservation_id", reserved.ReservationID),
		zap.String("client", clientID))
	return reserved, nil
}

// reserveOTC asks the desk for a venue-side reservation. Failure is not
// fatal: the quote stays reserved and settlement proceeds without desk
// pre-allocation.
func (p *Pipeline) reserveOTC(ctx context.Context, route *model.Route, clientID string) *model.OTCReservationMeta {
	if p.otc == nil {
		return nil
	}
	meta, err := p.otc.Reserve(ctx, route, clientID)
	if err != nil {
		p.logger.Warn("pipeline.otc_reservation_failed",
			zap.String("client", clientID),
			zap.Error(err))
		return nil
	}
	return meta
}

// GetReserved returns the reserved quote for a quote ID.
func (p *Pipeline) GetReserved(ctx context.Context, quoteID string) (*model.ReservedQuote, error) {
	data, err := p.store.Get(ctx, keyReserved+quoteID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var reserved model.ReservedQuote
	if err := json.Unmarshal([]byte(data), &reserved); err != nil {
		return nil, fmt.Errorf("parse reserved quote: %w", err)
	}
	if p.clock.NowMs() >= reserved.ReservedUntilTs {
		return nil, ErrNotFound
	}
	return &reserved, nil
}

package routing

import (
	"context"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/edgecache"
	"github.com/bearing-technology/routing-backend/internal/metrics"
	"github.com/bearing-technology/routing-backend/internal/pipeline"
	"github.com/bearing-technology/routing-backend/internal/router"
	"github.com/bearing-technology/routing-backend/internal/scoring"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// Service orchestrates route discovery, settlement scoring, and the quote
// pipeline. It is the single entry point the HTTP surface talks to.
type Service struct {
	ctx      context.Context
	logger   *zap.Logger
	cache    *edgecache.Cache
	router   *router.Router
	scorer   *scoring.Scorer
	pipeline *pipeline.Pipeline
}

// NewService constructs a fully wired routing service. ctx is the
// service-level context: execution drivers run on it so they survive after
// the HTTP response that triggered them is sent.
func NewService(
	ctx context.Context,
	logger *zap.Logger,
	cache *edgecache.Cache,
	rt *router.Router,
	scorer *scoring.Scorer,
	pipe *pipeline.Pipeline,
) *Service {
	return &Service{
		ctx:      ctx,
		logger:   logger,
		cache:    cache,
		router:   rt,
		scorer:   scorer,
		pipeline: pipe,
	}
}

// QuoteRequest is the canonical quote query.
type QuoteRequest struct {
	AmountIn      float64
	FromToken     string
	ToToken       string
	Intermediates []string
	MinExpiryMs   int64
	ClientID      string
}

// GetQuotes discovers the best route for the request, scores it, and stores
// it as a provisional quote. An unreachable pair yields an empty slice, not
// an error.
func (s *Service) GetQuotes(ctx context.Context, req QuoteRequest) ([]model.ProvisionalQuote, error) {
	route, considered := s.router.BestRoute(ctx, req.AmountIn, req.FromToken, req.ToToken, req.Intermediates, req.MinExpiryMs)
	if route == nil {
		metrics.IncQuoteRequest("no_route")
		s.logger.Info("routing.no_route",
			zap.String("from", req.FromToken),
			zap.String("to", req.ToToken),
			zap.Float64("amount", req.AmountIn),
			zap.Int("considered", considered))
		return nil, nil
	}

	participating := s.participatingQuotes(ctx, route)
	scored := s.scorer.Score(route.TotalOut, req.FromToken, req.ToToken, participating)
	route.Confidence = scored.Meta.Confidence

	prov, err := s.pipeline.StoreProvisional(ctx,
		route,
		req.AmountIn,
		route.TotalOut,
		scored.NetOutput,
		route.TotalFeesBps,
		scored.Meta,
		route.TypeOf(),
	)
	if err != nil {
		return nil, err
	}

	metrics.IncQuoteRequest("routed")
	s.logger.Info("routing.quote_created",
		zap.String("quote_id", prov.QuoteID),
		zap.String("from", req.FromToken),
		zap.String("to", req.ToToken),
		zap.Int("hops", len(route.Steps)),
		zap.Float64("out", route.TotalOut),
		zap.Float64("net_out", scored.NetOutput),
		zap.Int("considered", considered))

	return []model.ProvisionalQuote{*prov}, nil
}

// participatingQuotes reloads the cached edge quotes behind a route's
// non-DEX steps so the scorer sees their settlement metadata.
func (s *Service) participatingQuotes(ctx context.Context, route *model.Route) []model.EdgeQuote {
	var participating []model.EdgeQuote
	for _, step := range route.Steps {
		if model.IsDEXVenue(step.VenueID) {
			continue
		}
		quotes, err := s.cache.GetCachedByPair(ctx, step.FromToken, step.ToToken)
		if err != nil {
			s.logger.Warn("routing.participating_load_failed",
				zap.String("venue", step.VenueID),
				zap.Error(err))
			continue
		}
		for _, q := range quotes {
			if q.VenueID == step.VenueID {
				participating = append(participating, q)
				break
			}
		}
	}
	return participating
}

// ExecuteResult is the response of promoting a quote to execution.
type ExecuteResult struct {
	Reservation  *model.ReservedQuote
	Instructions *model.DepositInstructions
	Execution    *model.ExecutionRecord
}

// Execute reserves the quote, issues deposit instructions, and opens the
// execution record. No step runs before the deposit is confirmed; the first
// confirmation moves an OTC route's PENDING_APPROVAL record to EXECUTING.
func (s *Service) Execute(ctx context.Context, quoteID, clientID string) (*ExecuteResult, error) {
	reserved, err := s.pipeline.Reserve(ctx, quoteID, clientID)
	if err != nil {
		return nil, err
	}

	instructions, err := s.pipeline.IssueDeposit(ctx, quoteID, clientID, reserved)
	if err != nil {
		return nil, err
	}

	exec, err := s.pipeline.CreateExecution(ctx, quoteID, reserved.Route, nil)
	if err != nil {
		return nil, err
	}

	return &ExecuteResult{
		Reservation:  reserved,
		Instructions: instructions,
		Execution:    exec,
	}, nil
}

// ConfirmDeposit applies a deposit notification. On the first confirmation
// the quote's execution advances to EXECUTING and the driver starts on the
// service context; duplicates rewrite the deposit record but neither advance
// the execution nor start the driver again.
func (s *Service) ConfirmDeposit(ctx context.Context, paymentReference string, amountReceived float64, bankTxID string) (*model.DepositRecord, *model.ExecutionRecord, error) {
	record, first, err := s.pipeline.ConfirmDeposit(ctx, paymentReference, amountReceived, bankTxID)
	if err != nil {
		return nil, nil, err
	}

	exec, err := s.pipeline.GetExecutionByQuote(ctx, record.QuoteID)
	if err != nil {
		// Deposit without an execution record: confirmed but nothing to run.
		s.logger.Warn("routing.deposit_without_execution",
			zap.String("quote_id", record.QuoteID),
			zap.String("reference", paymentReference))
		return record, nil, nil
	}

	if first {
		exec, err = s.pipeline.AdvanceFromDeposit(ctx, record.QuoteID)
		if err != nil {
			return record, nil, err
		}
		// Use the service-level context, not the HTTP request context, so
		// the driver survives after the webhook response is sent.
		s.pipeline.RunExecution(s.ctx, exec.ExecutionID)
	}
	return record, exec, nil
}

// ExecutionStatus returns the current execution record.
func (s *Service) ExecutionStatus(ctx context.Context, executionID string) (*model.ExecutionRecord, error) {
	return s.pipeline.GetExecution(ctx, executionID)
}

// LiveQuotes returns the cached edge quotes for a pair (inspection surface).
func (s *Service) LiveQuotes(ctx context.Context, from, to string) ([]model.EdgeQuote, error) {
	return s.cache.GetCachedByPair(ctx, from, to)
}

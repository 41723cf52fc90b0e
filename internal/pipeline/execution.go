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

// ErrApprovalMismatch is returned when an approval token does not match.
var ErrApprovalMismatch = errors.New("pipeline: approval token mismatch")

// maxFallbacks bounds fallback re-entry: a route gets its primary run plus
// at most one fallback run.
const maxFallbacks = 1

// CreateExecution opens an execution record for a reserved quote's route.
// Routes containing an OTC step start in PENDING_APPROVAL with a generated
// approval token; pure on-chain routes start EXECUTING directly.
func (p *Pipeline) CreateExecution(ctx context.Context, quoteID string, route, fallback *model.Route) (*model.ExecutionRecord, error) {
	if route == nil {
		return nil, ErrNoRoute
	}

	rec := &model.ExecutionRecord{
		ExecutionID:       uuid.NewString(),
		QuoteID:           quoteID,
		Route:             route,
		FallbackRoute:     fallback,
		Status:            model.ExecutionExecuting,
		TransactionHashes: []string{},
		CreatedAt:         p.clock.NowMs(),
	}
	if hasOTCStep(route) {
		rec.Status = model.ExecutionPendingApproval
		rec.ApprovalToken = uuid.NewString()
	}

	if err := p.putExecution(ctx, rec); err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, keyExecByQuote+quoteID, rec.ExecutionID, p.cfg.ExecutionTTL); err != nil {
		return nil, fmt.Errorf("store execution index: %w", err)
	}

	p.logger.Info("pipeline.execution_created",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("quote_id", quoteID),
		zap.String("status", string(rec.Status)))
	return rec, nil
}

// GetExecution returns the execution record by ID.
func (p *Pipeline) GetExecution(ctx context.Context, executionID string) (*model.ExecutionRecord, error) {
	data, err := p.store.Get(ctx, keyExecution+executionID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec model.ExecutionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("parse execution record: %w", err)
	}
	return &rec, nil
}

// GetExecutionByQuote resolves the quote→execution index.
func (p *Pipeline) GetExecutionByQuote(ctx context.Context, quoteID string) (*model.ExecutionRecord, error) {
	executionID, err := p.store.Get(ctx, keyExecByQuote+quoteID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.GetExecution(ctx, executionID)
}

// ApproveExecution moves PENDING_APPROVAL to EXECUTING on a token match.
func (p *Pipeline) ApproveExecution(ctx context.Context, executionID, token string) (*model.ExecutionRecord, error) {
	rec, err := p.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.ExecutionPendingApproval {
		return rec, nil
	}
	if rec.ApprovalToken == "" || rec.ApprovalToken != token {
		return nil, ErrApprovalMismatch
	}

	rec.Status = model.ExecutionExecuting
	if err := p.putExecution(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AdvanceFromDeposit moves a quote's execution into EXECUTING after its
// deposit confirmed. Returns the record; the caller is responsible for
// starting the driver exactly once (first confirmation only).
func (p *Pipeline) AdvanceFromDeposit(ctx context.Context, quoteID string) (*model.ExecutionRecord, error) {
	rec, err := p.GetExecutionByQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.ExecutionPendingApproval {
		rec.Status = model.ExecutionExecuting
		if err := p.putExecution(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// CompleteExecution marks the record COMPLETED with its transaction hashes.
func (p *Pipeline) CompleteExecution(ctx context.Context, executionID string, txHashes []string) (*model.ExecutionRecord, error) {
	rec, err := p.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	rec.Status = model.ExecutionCompleted
	rec.TransactionHashes = txHashes
	rec.CurrentStep = len(rec.Route.Steps)
	rec.CompletedAt = p.clock.NowMs()
	if err := p.putExecution(ctx, rec); err != nil {
		return nil, err
	}

	metrics.IncPipelineTransition("execute", "completed")
	p.publish(ctx, "evt.routing.execution.completed.v1", rec)
	p.recordHistory(ctx, rec)
	p.logger.Info("pipeline.execution_completed",
		zap.String("execution_id", executionID),
		zap.Int("steps", len(txHashes)))
	return rec, nil
}

// FailExecution records a step failure. With useFallback and an unused
// fallback route present, the record re-enters EXECUTING on the fallback
// with its step cursor and hashes reset; otherwise it terminates FAILED.
func (p *Pipeline) FailExecution(ctx context.Context, executionID, errMsg string, useFallback bool) (*model.ExecutionRecord, error) {
	rec, err := p.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if useFallback && rec.FallbackRoute != nil && rec.FallbacksUsed < maxFallbacks {
		rec.Route = rec.FallbackRoute
		rec.FallbackRoute = nil
		rec.CurrentStep = 0
		rec.TransactionHashes = []string{}
		rec.FallbacksUsed++
		rec.Error = ""
		rec.Status = model.ExecutionExecuting
		if err := p.putExecution(ctx, rec); err != nil {
			return nil, err
		}

		metrics.IncPipelineTransition("execute", "fallback")
		p.logger.Warn("pipeline.execution_fallback",
			zap.String("execution_id", executionID),
			zap.String("error", errMsg))
		return rec, nil
	}

	rec.Status = model.ExecutionFailed
	rec.Error = errMsg
	rec.CompletedAt = p.clock.NowMs()
	if err := p.putExecution(ctx, rec); err != nil {
		return nil, err
	}

	metrics.IncPipelineTransition("execute", "failed")
	p.publish(ctx, "evt.routing.execution.failed.v1", rec)
	p.recordHistory(ctx, rec)
	p.logger.Warn("pipeline.execution_failed",
		zap.String("execution_id", executionID),
		zap.String("error", errMsg))
	return rec, nil
}

func (p *Pipeline) putExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	if err := p.store.Set(ctx, keyExecution+rec.ExecutionID, string(data), p.cfg.ExecutionTTL); err != nil {
		return fmt.Errorf("store execution record: %w", err)
	}
	return nil
}

func (p *Pipeline) recordHistory(ctx context.Context, rec *model.ExecutionRecord) {
	if p.history == nil {
		return
	}
	if err := p.history.RecordExecution(ctx, rec); err != nil {
		p.logger.Warn("pipeline.history_write_failed",
			zap.String("execution_id", rec.ExecutionID),
			zap.Error(err))
	}
}

func hasOTCStep(route *model.Route) bool {
	for _, s := range route.Steps {
		if !model.IsDEXVenue(s.VenueID) {
			return true
		}
	}
	return false
}

package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/metrics"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// StepExecutor performs one route step and returns its transaction hash.
// The production implementation settles OTC legs and submits on-chain swaps;
// the simulator below stands in until it exists.
type StepExecutor interface {
	Execute(ctx context.Context, step model.RouteStep) (txHash string, err error)
}

// RunExecution drives an EXECUTING record through its steps asynchronously.
// Fire-and-forget: callers return immediately with the current state and
// poll /status for progress.
func (p *Pipeline) RunExecution(ctx context.Context, executionID string) {
	go p.driveExecution(ctx, executionID)
}

// driveExecution iterates the route's steps, persisting progress after each.
// A step failure re-enters via the fallback route at most once; if the
// record stays EXECUTING after the failure, the loop restarts from step 0.
func (p *Pipeline) driveExecution(ctx context.Context, executionID string) {
	start := time.Now()

	for {
		rec, err := p.GetExecution(ctx, executionID)
		if err != nil {
			p.logger.Warn("driver.load_failed",
				zap.String("execution_id", executionID),
				zap.Error(err))
			return
		}
		if rec.Status != model.ExecutionExecuting {
			return
		}

		stepErr := p.runSteps(ctx, rec)
		if stepErr == nil {
			if _, err := p.CompleteExecution(ctx, executionID, rec.TransactionHashes); err != nil {
				p.logger.Warn("driver.complete_failed",
					zap.String("execution_id", executionID),
					zap.Error(err))
			}
			metrics.ObserveDuration(metrics.ExecutionDuration, start, "completed")
			return
		}

		after, err := p.FailExecution(ctx, executionID, stepErr.Error(), true)
		if err != nil {
			p.logger.Warn("driver.fail_transition_failed",
				zap.String("execution_id", executionID),
				zap.Error(err))
			return
		}
		if after.Status != model.ExecutionExecuting {
			metrics.ObserveDuration(metrics.ExecutionDuration, start, "failed")
			return
		}
		// Fallback route installed; restart from step 0.
	}
}

// runSteps executes the remaining steps of rec, mutating and persisting it
// as each completes. Returns the first step error, or nil when done.
func (p *Pipeline) runSteps(ctx context.Context, rec *model.ExecutionRecord) error {
	steps := rec.Route.Steps
	for rec.CurrentStep < len(steps) {
		step := steps[rec.CurrentStep]
		p.logger.Debug("driver.step_start",
			zap.String("execution_id", rec.ExecutionID),
			zap.Int("step", rec.CurrentStep),
			zap.String("venue", step.VenueID))

		txHash, err := p.executor.Execute(ctx, step)
		if err != nil {
			return err
		}

		rec.TransactionHashes = append(rec.TransactionHashes, txHash)
		rec.CurrentStep++
		if err := p.putExecution(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// SimulatedStepExecutor stands in for the settlement driver: it sleeps for a
// configured delay and returns a random transaction hash.
type SimulatedStepExecutor struct {
	Delay time.Duration
}

// NewSimulatedStepExecutor returns a simulator with the production-like ~2s
// per-step delay.
func NewSimulatedStepExecutor() *SimulatedStepExecutor {
	return &SimulatedStepExecutor{Delay: 2 * time.Second}
}

func (e *SimulatedStepExecutor) Execute(ctx context.Context, step model.RouteStep) (string, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf), nil
}

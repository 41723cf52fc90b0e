package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

func TestCreateExecution_OTCRequiresApproval(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	rec, err := env.pipe.CreateExecution(ctx, "q-1", otcRoute(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPendingApproval, rec.Status)
	assert.NotEmpty(t, rec.ApprovalToken)

	byQuote, err := env.pipe.GetExecutionByQuote(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ExecutionID, byQuote.ExecutionID)
}

func TestCreateExecution_PureDEXStartsExecuting(t *testing.T) {
	env := newTestPipeline(t, nil)

	rec, err := env.pipe.CreateExecution(context.Background(), "q-2", dexRoute(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionExecuting, rec.Status)
	assert.Empty(t, rec.ApprovalToken)
}

func TestCreateExecution_NilRoute(t *testing.T) {
	env := newTestPipeline(t, nil)

	_, err := env.pipe.CreateExecution(context.Background(), "q-3", nil, nil)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestApproveExecution_TokenMatch(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	rec, err := env.pipe.CreateExecution(ctx, "q-1", otcRoute(), nil)
	require.NoError(t, err)

	_, err = env.pipe.ApproveExecution(ctx, rec.ExecutionID, "wrong-token")
	assert.ErrorIs(t, err, ErrApprovalMismatch)

	approved, err := env.pipe.ApproveExecution(ctx, rec.ExecutionID, rec.ApprovalToken)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionExecuting, approved.Status)
}

func TestFailExecution_TerminalWithoutFallback(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	rec, err := env.pipe.CreateExecution(ctx, "q-1", dexRoute(), nil)
	require.NoError(t, err)

	failed, err := env.pipe.FailExecution(ctx, rec.ExecutionID, "venue rejected", true)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, failed.Status)
	assert.Equal(t, "venue rejected", failed.Error)
	assert.NotZero(t, failed.CompletedAt)
}

func TestFailExecution_FallbackReEntry(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	fallback := dexRoute()
	rec, err := env.pipe.CreateExecution(ctx, "q-1", otcRoute(), fallback)
	require.NoError(t, err)

	after, err := env.pipe.FailExecution(ctx, rec.ExecutionID, "primary step failed", true)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionExecuting, after.Status)
	assert.Equal(t, fallback.Steps[0].VenueID, after.Route.Steps[0].VenueID)
	assert.Equal(t, 0, after.CurrentStep)
	assert.Empty(t, after.TransactionHashes)
	assert.Equal(t, 1, after.FallbacksUsed)

	// Only one fallback: the next failure is terminal.
	terminal, err := env.pipe.FailExecution(ctx, rec.ExecutionID, "fallback failed too", true)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, terminal.Status)
}

func TestDriver_CompletesAllSteps(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	route := otcRoute()
	rec, err := env.pipe.CreateExecution(ctx, "q-1", route, nil)
	require.NoError(t, err)
	_, err = env.pipe.ApproveExecution(ctx, rec.ExecutionID, rec.ApprovalToken)
	require.NoError(t, err)

	env.pipe.RunExecution(ctx, rec.ExecutionID)

	require.Eventually(t, func() bool {
		got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
		return err == nil && got.Status == model.ExecutionCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, got.TransactionHashes, len(route.Steps))
	assert.Equal(t, len(route.Steps), got.CurrentStep)
	assert.Equal(t, 1, env.pub.count("evt.routing.execution.completed.v1"))
}

func TestDriver_FallbackRetry(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	// The primary's second step fails; every fallback step succeeds.
	env.exec.execute = func(step model.RouteStep) (string, error) {
		if step.VenueID == "otc:2" {
			return "", fmt.Errorf("desk offline")
		}
		return "0xok-" + step.VenueID, nil
	}

	primary := otcRoute()
	fallback := dexRoute()
	rec, err := env.pipe.CreateExecution(ctx, "q-1", primary, fallback)
	require.NoError(t, err)
	_, err = env.pipe.ApproveExecution(ctx, rec.ExecutionID, rec.ApprovalToken)
	require.NoError(t, err)

	env.pipe.RunExecution(ctx, rec.ExecutionID)

	require.Eventually(t, func() bool {
		got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
		return err == nil && got.Status == model.ExecutionCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)

	// Hashes belong to the fallback only.
	require.Len(t, got.TransactionHashes, len(fallback.Steps))
	for _, h := range got.TransactionHashes {
		assert.Contains(t, h, "dex:orca")
	}
	assert.Equal(t, 1, got.FallbacksUsed)
}

func TestDriver_FailsWithoutFallback(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	env.exec.execute = func(step model.RouteStep) (string, error) {
		return "", fmt.Errorf("venue down")
	}

	rec, err := env.pipe.CreateExecution(ctx, "q-1", dexRoute(), nil)
	require.NoError(t, err)

	env.pipe.RunExecution(ctx, rec.ExecutionID)

	require.Eventually(t, func() bool {
		got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
		return err == nil && got.Status == model.ExecutionFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "venue down", got.Error)
	assert.Equal(t, 1, env.pub.count("evt.routing.execution.failed.v1"))
}

func TestDriver_DoesNotRunPendingApproval(t *testing.T) {
	env := newTestPipeline(t, nil)
	ctx := context.Background()

	rec, err := env.pipe.CreateExecution(ctx, "q-1", otcRoute(), nil)
	require.NoError(t, err)

	env.pipe.RunExecution(ctx, rec.ExecutionID)
	time.Sleep(50 * time.Millisecond)

	got, err := env.pipe.GetExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPendingApproval, got.Status)
	assert.Empty(t, got.TransactionHashes)
}

func TestGetExecution_Missing(t *testing.T) {
	env := newTestPipeline(t, nil)
	_, err := env.pipe.GetExecution(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

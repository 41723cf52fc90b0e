package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/pkg/model"
)

// Writer mirrors terminal execution records into the durable ledger so
// settled conversions survive the key-value store's TTLs. The pipeline
// treats it as optional: a nil Writer disables history.
type Writer struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	source string
}

// New constructs a writer into ledger.execution_history.
// source identifies the writing service instance.
func New(db *pgxpool.Pool, logger *zap.Logger, source string) *Writer {
	return &Writer{
		db:     db,
		logger: logger,
		source: source,
	}
}

// Connect opens a pgx pool for the ledger database.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// RecordExecution upserts one terminal execution into the ledger.
func (w *Writer) RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	if rec == nil {
		return nil
	}

	routeJSON, err := json.Marshal(rec.Route)
	if err != nil {
		return err
	}
	hashesJSON, err := json.Marshal(rec.TransactionHashes)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO ledger.execution_history (
			execution_id,
			quote_id,
			status,
			from_token,
			to_token,
			total_in,
			total_out,
			steps,
			route,
			tx_hashes,
			error,
			source,
			created_at,
			completed_at,
			recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			to_timestamp($13 / 1000.0), to_timestamp($14 / 1000.0), NOW())
		ON CONFLICT (execution_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			route = EXCLUDED.route,
			tx_hashes = EXCLUDED.tx_hashes,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			recorded_at = NOW();
	`

	_, err = w.db.Exec(ctx, query,
		rec.ExecutionID,
		rec.QuoteID,
		string(rec.Status),
		rec.Route.FromToken,
		rec.Route.ToToken,
		rec.Route.TotalIn,
		rec.Route.TotalOut,
		len(rec.Route.Steps),
		string(routeJSON),
		string(hashesJSON),
		rec.Error,
		w.source,
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		w.logger.Error("history.execution_sync_failed",
			zap.String("execution_id", rec.ExecutionID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("history.execution_recorded",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("status", string(rec.Status)),
	)
	return nil
}

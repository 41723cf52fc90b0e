package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/clock"
	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// ErrNotFound is returned when a quote, deposit, or execution lookup misses.
// Expired records surface the same way: callers cannot distinguish a record
// that never existed from one whose TTL ran out.
var ErrNotFound = errors.New("pipeline: not found")

// ErrNoRoute is returned when a quote with no route is promoted.
var ErrNoRoute = errors.New("pipeline: quote has no route")

const (
	keyProvisional = "quote:prov:"
	keyReserved    = "quote:reserved:"
	keyDeposit     = "deposit:"
	keyDepositRef  = "deposit:ref:"
	keyExecution   = "exec:"
	keyExecByQuote = "execution:quote:"
)

// OTCReservationClient obtains a venue-side reservation for OTC legs.
// Implementations talk to the desk's API; a nil client skips reservation.
type OTCReservationClient interface {
	Reserve(ctx context.Context, route *model.Route, clientID string) (*model.OTCReservationMeta, error)
}

// EventPublisher emits lifecycle events. Publish failures are logged by the
// pipeline and never propagated.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// HistoryWriter mirrors terminal executions into a durable ledger.
type HistoryWriter interface {
	RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error
}

// TreasuryDetails fills deposit instructions per payment method.
type TreasuryDetails struct {
	PixKey       string
	SpeiClabe    string
	BankAccount  string
	BankName     string
	BankRouting  string
	MerchantName string
	MerchantCity string
}

// Config carries the pipeline's TTLs and treasury fixtures.
type Config struct {
	ProvisionalTTL time.Duration
	ReservedTTL    time.Duration
	DepositTTL     time.Duration
	ExecutionTTL   time.Duration
	Treasury       TreasuryDetails
}

// DefaultConfig returns the production TTLs.
func DefaultConfig() Config {
	return Config{
		ProvisionalTTL: 15 * time.Second,
		ReservedTTL:    300 * time.Second,
		DepositTTL:     3600 * time.Second,
		ExecutionTTL:   86400 * time.Second,
	}
}

// Pipeline owns the provisional/reserved/deposit/execution records and the
// transitions between them. All state lives in the shared key-value store;
// the pipeline itself is safe for concurrent use.
type Pipeline struct {
	store     kvstore.Store
	clock     clock.Clock
	logger    *zap.Logger
	cfg       Config
	otc       OTCReservationClient
	publisher EventPublisher
	history   HistoryWriter
	executor  StepExecutor
}

func New(
	store kvstore.Store,
	clk clock.Clock,
	logger *zap.Logger,
	cfg Config,
	otc OTCReservationClient,
	pub EventPublisher,
	history HistoryWriter,
	executor StepExecutor,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProvisionalTTL == 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		store:     store,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
		otc:       otc,
		publisher: pub,
		history:   history,
		executor:  executor,
	}
}

// publish emits a lifecycle event, swallowing failures.
func (p *Pipeline) publish(ctx context.Context, subject string, payload any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, subject, payload); err != nil {
		p.logger.Debug("pipeline.publish_failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

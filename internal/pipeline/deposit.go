package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/kvstore"
	"github.com/bearing-technology/routing-backend/internal/metrics"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// depositToleranceRatio admits small overages/undershoots from banking fees:
// mismatches within 0.1% of the expected amount are accepted silently,
// larger ones are warned but still confirmed.
var depositToleranceRatio = decimal.NewFromFloat(0.001)

// IssueDeposit creates the deposit record for a reserved quote and returns
// the client-facing instructions. Two keys are written: the record itself
// and a paymentReference index resolving webhook notifications.
func (p *Pipeline) IssueDeposit(ctx context.Context, quoteID, clientID string, reserved *model.ReservedQuote) (*model.DepositInstructions, error) {
	ref := paymentReference(reserved.ReservationID, clientID)
	source := reserved.Route.FromToken
	method := methodForToken(source)

	instructions := &model.DepositInstructions{
		Method:           method,
		AccountDetails:   p.accountDetailsFor(method, reserved),
		Amount:           reserved.AmountIn,
		Currency:         source,
		PaymentReference: ref,
		DepositExpiryTs:  reserved.ReservedUntilTs,
	}
	if method == model.MethodPIX {
		instructions.QRCodeData = buildPixQR(p.cfg.Treasury, reserved.AmountIn, ref)
	}

	record := &model.DepositRecord{
		DepositID:        uuid.NewString(),
		QuoteID:          quoteID,
		ClientID:         clientID,
		AmountExpected:   reserved.AmountIn,
		Instructions:     *instructions,
		Status:           model.DepositPending,
		PaymentReference: ref,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal deposit record: %w", err)
	}
	if err := p.store.Set(ctx, keyDeposit+record.DepositID, string(data), p.cfg.DepositTTL); err != nil {
		return nil, fmt.Errorf("store deposit record: %w", err)
	}
	if err := p.store.Set(ctx, keyDepositRef+ref, record.DepositID, p.cfg.DepositTTL); err != nil {
		return nil, fmt.Errorf("store deposit reference index: %w", err)
	}

	metrics.IncPipelineTransition("deposit", "issued")
	p.logger.Info("pipeline.deposit_issued",
		zap.String("deposit_id", record.DepositID),
		zap.String("quote_id", quoteID),
		zap.String("reference", ref),
		zap.String("method", string(method)))
	return instructions, nil
}

// ConfirmDeposit marks a deposit as received. The operation is idempotent on
// paymentReference: confirming an already-confirmed deposit rewrites the
// same content and reports that execution must not be re-triggered.
func (p *Pipeline) ConfirmDeposit(ctx context.Context, ref string, amountReceived float64, bankTxID string) (*model.DepositRecord, bool, error) {
	depositID, err := p.store.Get(ctx, keyDepositRef+ref)
	if errors.Is(err, kvstore.ErrNotFound) {
		metrics.IncPipelineTransition("confirm", "not_found")
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}

	data, err := p.store.Get(ctx, keyDeposit+depositID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}

	var record model.DepositRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, false, fmt.Errorf("parse deposit record: %w", err)
	}

	firstConfirmation := record.Status == model.DepositPending

	expected := decimal.NewFromFloat(record.AmountExpected)
	received := decimal.NewFromFloat(amountReceived)
	tolerance := expected.Mul(depositToleranceRatio)
	if received.Sub(expected).Abs().GreaterThan(tolerance) {
		p.logger.Warn("pipeline.deposit_amount_mismatch",
			zap.String("reference", ref),
			zap.String("expected", expected.StringFixed(2)),
			zap.String("received", received.StringFixed(2)))
	}

	record.Status = model.DepositConfirmed
	record.AmountReceived = amountReceived
	record.ReceivedAt = p.clock.NowMs()
	record.BankTxID = bankTxID

	updated, err := json.Marshal(&record)
	if err != nil {
		return nil, false, fmt.Errorf("marshal deposit record: %w", err)
	}
	if err := p.store.Set(ctx, keyDeposit+depositID, string(updated), p.cfg.DepositTTL); err != nil {
		return nil, false, fmt.Errorf("store deposit record: %w", err)
	}

	if firstConfirmation {
		metrics.IncPipelineTransition("confirm", "ok")
		p.publish(ctx, "evt.routing.deposit.confirmed.v1", &record)
	} else {
		metrics.IncPipelineTransition("confirm", "duplicate")
	}
	p.logger.Info("pipeline.deposit_confirmed",
		zap.String("deposit_id", record.DepositID),
		zap.String("reference", ref),
		zap.Bool("first", firstConfirmation),
		zap.String("bank_tx", bankTxID))
	return &record, firstConfirmation, nil
}

// paymentReference derives the unique reference from the reservation and
// client: "r{reservationId[:8]}-{clientId[:8]}".
func paymentReference(reservationID, clientID string) string {
	return "r" + head(reservationID, 8) + "-" + head(clientID, 8)
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// methodForToken picks the payment rail for the source token.
func methodForToken(token string) model.PaymentMethod {
	switch token {
	case "BRL":
		return model.MethodPIX
	case "MXN":
		return model.MethodSPEI
	case "USD", "EUR":
		return model.MethodBankTransfer
	default:
		return model.MethodBankTransfer
	}
}

func (p *Pipeline) accountDetailsFor(method model.PaymentMethod, reserved *model.ReservedQuote) model.AccountDetails {
	t := p.cfg.Treasury
	details := model.AccountDetails{
		BankName:    t.BankName,
		AccountName: t.MerchantName,
	}
	switch method {
	case model.MethodPIX:
		details.PixKey = t.PixKey
	case model.MethodSPEI:
		details.Clabe = t.SpeiClabe
	default:
		details.AccountNumber = t.BankAccount
		details.RoutingCode = t.BankRouting
	}
	// Prefer a venue-provided deposit address when the OTC desk allocated one.
	if reserved.OTCReservation != nil && reserved.OTCReservation.DepositAddress != "" {
		details.Address = reserved.OTCReservation.DepositAddress
	}
	return details
}

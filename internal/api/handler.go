package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bearing-technology/routing-backend/internal/pipeline"
	"github.com/bearing-technology/routing-backend/internal/routing"
	"github.com/bearing-technology/routing-backend/pkg/model"
)

// RoutingService defines the service operations the handlers need.
type RoutingService interface {
	GetQuotes(ctx context.Context, req routing.QuoteRequest) ([]model.ProvisionalQuote, error)
	Execute(ctx context.Context, quoteID, clientID string) (*routing.ExecuteResult, error)
	ConfirmDeposit(ctx context.Context, paymentReference string, amountReceived float64, bankTxID string) (*model.DepositRecord, *model.ExecutionRecord, error)
	ExecutionStatus(ctx context.Context, executionID string) (*model.ExecutionRecord, error)
	LiveQuotes(ctx context.Context, from, to string) ([]model.EdgeQuote, error)
}

// Handler serves the /routing HTTP surface.
type Handler struct {
	logger        *zap.Logger
	service       RoutingService
	webhookSecret string
	sigHeader     string
}

// NewHandler creates a Handler. webhookSecret is optional; when set, deposit
// webhooks must carry a valid HMAC signature in sigHeader.
func NewHandler(logger *zap.Logger, service RoutingService, webhookSecret, sigHeader string) *Handler {
	if strings.TrimSpace(sigHeader) == "" {
		sigHeader = "X-Deposit-Signature"
	}
	return &Handler{
		logger:        logger,
		service:       service,
		webhookSecret: webhookSecret,
		sigHeader:     sigHeader,
	}
}

type quoteDTO struct {
	QuoteID      string            `json:"quoteId"`
	Route        *model.Route      `json:"route"`
	AmountOut    float64           `json:"amountOut"`
	NetAmountOut float64           `json:"netAmountOut"`
	ExpiryTs     int64             `json:"expiryTs"`
	Type         model.QuoteType   `json:"type"`
	Confidence   float64           `json:"confidence"`
	ScoringMeta  model.ScoringMeta `json:"scoringMeta"`
}

// QuoteHandler handles POST /routing/quote/v2.
// An empty result is a 200 with an empty quotes array, never an error.
func (h *Handler) QuoteHandler(c *fiber.Ctx) error {
	var req QuoteRequestBody
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	quotes, err := h.service.GetQuotes(c.Context(), routing.QuoteRequest{
		AmountIn:      req.AmountIn,
		FromToken:     req.FromToken,
		ToToken:       req.ToToken,
		Intermediates: req.Intermediates,
		MinExpiryMs:   req.MinExpiryMs,
		ClientID:      req.ClientID,
	})
	if err != nil {
		h.logger.Error("api.quote_failed",
			zap.String("from", req.FromToken),
			zap.String("to", req.ToToken),
			zap.Error(err))
		// Availability over precision: a degraded quote surface returns no
		// quotes rather than a 500 storm.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"quotes": []quoteDTO{}})
	}

	dtos := make([]quoteDTO, 0, len(quotes))
	for _, q := range quotes {
		dtos = append(dtos, quoteDTO{
			QuoteID:      q.QuoteID,
			Route:        q.Route,
			AmountOut:    q.AmountOut,
			NetAmountOut: q.NetAmountOut,
			ExpiryTs:     q.ExpiryTs,
			Type:         q.Type,
			Confidence:   q.ScoringMeta.Confidence,
			ScoringMeta:  q.ScoringMeta,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"quotes": dtos})
}

// ExecuteHandler handles POST /routing/execute/v2.
func (h *Handler) ExecuteHandler(c *fiber.Ctx) error {
	var req ExecuteRequestBody
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.service.Execute(c.Context(), req.QuoteID, req.ClientID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "quote not found or expired"})
		case errors.Is(err, pipeline.ErrNoRoute):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "quote has no route"})
		default:
			h.logger.Error("api.execute_failed",
				zap.String("quote_id", req.QuoteID),
				zap.String("client", req.ClientID),
				zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "execution setup failed"})
		}
	}

	resp := fiber.Map{
		"reservationId":       result.Reservation.ReservationID,
		"quoteId":             req.QuoteID,
		"status":              result.Execution.Status,
		"depositInstructions": result.Instructions,
		"reservedUntil":       result.Reservation.ReservedUntilTs,
	}
	if result.Reservation.OTCReservation != nil && result.Reservation.OTCReservation.OTCReservationID != "" {
		resp["otcReservationId"] = result.Reservation.OTCReservation.OTCReservationID
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// DepositWebhookHandler handles POST /routing/webhooks/deposit.
// Webhook contract: an unknown reference is a 2xx with success=false so the
// notifier does not retry forever.
func (h *Handler) DepositWebhookHandler(c *fiber.Ctx) error {
	if h.webhookSecret != "" {
		signature := c.Get(h.sigHeader)
		if signature == "" || !validateWebhookSignature(h.webhookSecret, signature, c.Body()) {
			h.logger.Warn("api.deposit_webhook_invalid_signature",
				zap.String("header", h.sigHeader))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid signature",
			})
		}
	}

	var req DepositWebhookBody
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warn("api.deposit_webhook_parse_error",
			zap.Error(err),
			zap.String("body", string(c.Body())))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false})
	}
	if req.PaymentReference == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false})
	}

	record, exec, err := h.service.ConfirmDeposit(c.Context(), req.PaymentReference, req.AmountReceived, req.BankTxID)
	if err != nil {
		if !errors.Is(err, pipeline.ErrNotFound) {
			h.logger.Error("api.deposit_webhook_failed",
				zap.String("reference", req.PaymentReference),
				zap.Error(err))
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false})
	}

	resp := fiber.Map{
		"success":   true,
		"depositId": record.DepositID,
	}
	if exec != nil {
		resp["executionId"] = exec.ExecutionID
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func validateWebhookSignature(secret, signature string, body []byte) bool {
	normalized := strings.TrimSpace(signature)
	if strings.HasPrefix(strings.ToLower(normalized), "sha256=") {
		normalized = normalized[7:]
	}
	expected, err := hex.DecodeString(normalized)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// StatusHandler handles GET /routing/status?executionId=...
func (h *Handler) StatusHandler(c *fiber.Ctx) error {
	executionID := c.Query("executionId")
	if executionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "executionId is required"})
	}

	rec, err := h.service.ExecutionStatus(c.Context(), executionID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "execution not found"})
		}
		h.logger.Error("api.status_failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status lookup failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"executionId":       rec.ExecutionID,
		"status":            rec.Status,
		"route":             rec.Route,
		"transactionHashes": rec.TransactionHashes,
		"currentStep":       rec.CurrentStep,
		"completedAt":       rec.CompletedAt,
		"error":             rec.Error,
	})
}

// LiveQuotesHandler handles GET /routing/quotes?fromToken=&toToken=.
func (h *Handler) LiveQuotesHandler(c *fiber.Ctx) error {
	from := c.Query("fromToken")
	to := c.Query("toToken")
	if from == "" || to == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "fromToken and toToken are required"})
	}

	quotes, err := h.service.LiveQuotes(c.Context(), from, to)
	if err != nil {
		h.logger.Error("api.live_quotes_failed",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"quotes": []model.EdgeQuote{}})
	}
	if quotes == nil {
		quotes = []model.EdgeQuote{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"quotes": quotes})
}

package api

import "fmt"

// QuoteRequestBody is the POST /routing/quote/v2 payload.
type QuoteRequestBody struct {
	AmountIn      float64  `json:"amountIn"`
	FromToken     string   `json:"fromToken"`
	ToToken       string   `json:"toToken"`
	Intermediates []string `json:"intermediates,omitempty"`
	MinExpiryMs   int64    `json:"minExpiryMs,omitempty"`
	ClientID      string   `json:"clientId,omitempty"`
	Priority      string   `json:"priority,omitempty"` // cost | speed | balanced
}

func (r *QuoteRequestBody) Validate() error {
	if r.AmountIn <= 0 {
		return fmt.Errorf("amountIn must be positive")
	}
	if r.FromToken == "" {
		return fmt.Errorf("fromToken is required")
	}
	if r.ToToken == "" {
		return fmt.Errorf("toToken is required")
	}
	switch r.Priority {
	case "", "cost", "speed", "balanced":
	default:
		return fmt.Errorf("priority must be one of cost, speed, balanced")
	}
	return nil
}

// ExecuteRequestBody is the POST /routing/execute/v2 payload.
type ExecuteRequestBody struct {
	QuoteID  string `json:"quoteId"`
	ClientID string `json:"clientId"`
}

func (r *ExecuteRequestBody) Validate() error {
	if r.QuoteID == "" {
		return fmt.Errorf("quoteId is required")
	}
	if r.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	return nil
}

// DepositWebhookBody is the POST /routing/webhooks/deposit payload.
type DepositWebhookBody struct {
	PaymentReference string  `json:"paymentReference"`
	AmountReceived   float64 `json:"amountReceived"`
	BankTxID         string  `json:"bankTxId,omitempty"`
	Source           string  `json:"source,omitempty"`
}

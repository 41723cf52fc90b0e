package model

// ScoringMeta records how a route's gross output was discounted.
type ScoringMeta struct {
	SettlementDays   float64 `json:"settlementDays"`
	CounterpartyRisk float64 `json:"counterpartyRisk"`
	TimePenalty      float64 `json:"timePenalty"`
	Confidence       float64 `json:"confidence"`
}

// ProvisionalQuote is a scored route made addressable for a short window.
// Route may be nil when no viable path existed for the request.
type ProvisionalQuote struct {
	QuoteID      string      `json:"quoteId"`
	Route        *Route      `json:"route"`
	AmountIn     float64     `json:"amountIn"`
	AmountOut    float64     `json:"amountOut"`
	NetAmountOut float64     `json:"netAmountOut"`
	FeeBps       float64     `json:"feeBps"`
	ExpiryTs     int64       `json:"expiryTs"`
	CreatedTs    int64       `json:"createdTs"`
	Type         QuoteType   `json:"type"`
	ScoringMeta  ScoringMeta `json:"scoringMeta"`
}

// OTCReservationMeta holds venue-side reservation details for OTC legs.
type OTCReservationMeta struct {
	OTCReservationID    string `json:"otcReservationId,omitempty"`
	DepositAddress      string `json:"depositAddress,omitempty"`
	DepositInstructions string `json:"depositInstructions,omitempty"`
}

// ReservedQuote is a provisional quote promoted by client intent to execute.
type ReservedQuote struct {
	ProvisionalQuote
	ReservationID    string              `json:"reservationId"`
	ReservedByClient string              `json:"reservedByClient"`
	ReservedUntilTs  int64               `json:"reservedUntilTs"`
	OTCReservation   *OTCReservationMeta `json:"otcReservationMeta,omitempty"`
}

// AccountDetails describes where a client pays an off-chain deposit.
type AccountDetails struct {
	BankName      string `json:"bankName,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	RoutingCode   string `json:"routingCode,omitempty"`
	PixKey        string `json:"pixKey,omitempty"`
	Clabe         string `json:"clabe,omitempty"`
	Address       string `json:"address,omitempty"`
}

// DepositInstructions is the payload returned to a client so it can fund a
// reserved quote off-chain.
type DepositInstructions struct {
	Method           PaymentMethod  `json:"method"`
	AccountDetails   AccountDetails `json:"accountDetails"`
	Amount           float64        `json:"amount"`
	Currency         string         `json:"currency"`
	PaymentReference string         `json:"paymentReference"`
	QRCodeData       string         `json:"qrCodeData,omitempty"`
	DepositExpiryTs  int64          `json:"depositExpiryTs"`
}

// DepositStatus is the lifecycle state of a deposit record.
type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositConfirmed DepositStatus = "CONFIRMED"
	DepositFailed    DepositStatus = "FAILED"
	DepositExpired   DepositStatus = "EXPIRED"
)

// DepositRecord tracks one expected client deposit, bound by its
// paymentReference until a bank transaction confirms it.
type DepositRecord struct {
	DepositID        string              `json:"depositId"`
	QuoteID          string              `json:"quoteId"`
	ClientID         string              `json:"clientId"`
	AmountExpected   float64             `json:"amountExpected"`
	AmountReceived   float64             `json:"amountReceived,omitempty"`
	Instructions     DepositInstructions `json:"instructions"`
	Status           DepositStatus       `json:"status"`
	ReceivedAt       int64               `json:"receivedAt,omitempty"`
	BankTxID         string              `json:"bankTxId,omitempty"`
	PaymentReference string              `json:"paymentReference"`
}

// ExecutionStatus is the lifecycle state of an execution record.
type ExecutionStatus string

const (
	ExecutionPendingApproval ExecutionStatus = "PENDING_APPROVAL"
	ExecutionExecuting       ExecutionStatus = "EXECUTING"
	ExecutionCompleted       ExecutionStatus = "COMPLETED"
	ExecutionFailed          ExecutionStatus = "FAILED"
)

// ExecutionRecord is the state of one run of a route.
type ExecutionRecord struct {
	ExecutionID       string          `json:"executionId"`
	QuoteID           string          `json:"quoteId"`
	Route             *Route          `json:"route"`
	FallbackRoute     *Route          `json:"fallbackRoute,omitempty"`
	Status            ExecutionStatus `json:"status"`
	ApprovalToken     string          `json:"approvalToken,omitempty"`
	TransactionHashes []string        `json:"transactionHashes"`
	CurrentStep       int             `json:"currentStep"`
	FallbacksUsed     int             `json:"fallbacksUsed"`
	CreatedAt         int64           `json:"createdAt"`
	CompletedAt       int64           `json:"completedAt,omitempty"`
	Error             string          `json:"error,omitempty"`
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentEventType string

const (
	EventPaymentSucceeded PaymentEventType = "payment_succeeded"
	EventPaymentFailed    PaymentEventType = "payment_failed"
	EventChargeRefunded   PaymentEventType = "charge_refunded"
	EventDisputeOpened    PaymentEventType = "dispute_opened"
	EventDisputeClosed    PaymentEventType = "dispute_closed"
	EventPayoutPaid       PaymentEventType = "payout_paid"
	EventPayoutFailed     PaymentEventType = "payout_failed"
	EventTransferCreated  PaymentEventType = "transfer_created"
	EventTransferReversed PaymentEventType = "transfer_reversed"
	EventUnknown          PaymentEventType = "unknown"
)

// PaymentEvent is a verified processor event reduced to what settlement needs.
type PaymentEvent struct {
	ID              string           `json:"id"`
	Type            PaymentEventType `json:"type"`
	ProviderType    string           `json:"provider_type"`
	OrderID         string           `json:"order_id,omitempty"`
	PaymentIntentID string           `json:"payment_intent_id,omitempty"`
	ChargeID        string           `json:"charge_id,omitempty"`
	PayoutRequestID string           `json:"payout_request_id,omitempty"`
	ExternalID      string           `json:"external_id,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency,omitempty"`
	DisputeStatus   string           `json:"dispute_status,omitempty"`
	DisputeReason   string           `json:"dispute_reason,omitempty"`
	FailureCode     string           `json:"failure_code,omitempty"`
	FailureMessage  string           `json:"failure_message,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// DisputeWon reports a closed processor dispute decided for the merchant.
func (e *PaymentEvent) DisputeWon() bool {
	return e.DisputeStatus == "won" || e.DisputeStatus == "warning_closed"
}

type EventOutcome string

const (
	OutcomeApplied   EventOutcome = "applied"
	OutcomeDuplicate EventOutcome = "duplicate"
	OutcomeIgnored   EventOutcome = "ignored"
)

type ProcessedEvent struct {
	ProviderEventID string
	Type            PaymentEventType
	Outcome         EventOutcome
	Detail          string
	ProcessedAt     time.Time
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       decimal.Decimal
	Currency     string
}

type RefundReq struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
	IdempotencyKey  string
	Metadata        map[string]string
}

type Refund struct {
	ID     string
	Status string
}

type TransferReq struct {
	DestinationAccountID string
	Amount               decimal.Decimal
	Currency             string
	IdempotencyKey       string
	Metadata             map[string]string
}

type Transfer struct {
	ID string
}

// SettlementEvent is published after a settlement change commits.
type SettlementEvent struct {
	Type       string            `json:"type"`
	OrderID    string            `json:"order_id,omitempty"`
	PayoutID   string            `json:"payout_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Status     string            `json:"status"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
)

type PayoutReq struct {
	UserID         string          `json:"user_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"-"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=255"`
}

type PayoutRequest struct {
	ID               uuid.UUID       `json:"id"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PayoutStatus    `json:"status"`
	IdempotencyKey   string          `json:"idempotency_key"`
	DestinationID    string          `json:"destination_id,omitempty"`
	ExternalPayoutID string          `json:"external_payout_id,omitempty"`
	FailureCode      string          `json:"failure_code,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

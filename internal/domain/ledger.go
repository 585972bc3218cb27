package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDeposit        EntryType = "DEPOSIT"
	EntryFeeAllocation  EntryType = "FEE_ALLOCATION"
	EntryEscrowHold     EntryType = "ESCROW_HOLD"
	EntryRelease        EntryType = "RELEASE"
	EntryFreeze         EntryType = "FREEZE"
	EntryUnfreeze       EntryType = "UNFREEZE"
	EntryRefund         EntryType = "REFUND"
	EntryChargeback     EntryType = "CHARGEBACK"
	EntryCancelReversal EntryType = "CANCEL_REVERSAL"
	EntryWithdrawal     EntryType = "WITHDRAWAL"
	// EntryWithdrawalReversal returns a paid-out amount the processor took back.
	EntryWithdrawalReversal EntryType = "WITHDRAWAL_REVERSAL"
)

type EntryStatus string

const EntryPosted EntryStatus = "POSTED"

type ReferenceType string

const (
	ReferenceOrder  ReferenceType = "ORDER"
	ReferencePayout ReferenceType = "PAYOUT"
)

// LedgerEntry is immutable once created.
type LedgerEntry struct {
	ID              uuid.UUID         `json:"id"`
	Type            EntryType         `json:"type"`
	Status          EntryStatus       `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	DebitAccountID  uuid.UUID         `json:"debit_account_id"`
	CreditAccountID uuid.UUID         `json:"credit_account_id"`
	ReferenceType   ReferenceType     `json:"reference_type"`
	ReferenceID     string            `json:"reference_id"`
	IdempotencyKey  string            `json:"idempotency_key"`
	ProviderEventID *string           `json:"provider_event_id,omitempty"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
}

// IsAnnotation marks a balance-neutral entry whose debit and credit side are
// the same account (fee allocation and escrow bookkeeping rows).
func (e *LedgerEntry) IsAnnotation() bool {
	return e.DebitAccountID == e.CreditAccountID
}

// Matches reports whether e records the movement req describes. A key or
// provider event reused for a different movement is not a replay.
func (e *LedgerEntry) Matches(req *PostingReq) bool {
	return e.Type == req.Type &&
		e.ReferenceType == req.ReferenceType &&
		e.ReferenceID == req.ReferenceID &&
		e.DebitAccountID == req.DebitAccountID &&
		e.CreditAccountID == req.CreditAccountID &&
		e.Currency == req.Currency &&
		e.Amount.Equal(req.Amount)
}

type PostingReq struct {
	Type            EntryType         `validate:"required"`
	Amount          decimal.Decimal   `validate:"-"`
	Currency        string            `validate:"required,len=3"`
	DebitAccountID  uuid.UUID         `validate:"required"`
	CreditAccountID uuid.UUID         `validate:"required"`
	ReferenceType   ReferenceType     `validate:"required"`
	ReferenceID     string            `validate:"required"`
	IdempotencyKey  string            `validate:"required,max=255"`
	ProviderEventID *string           `validate:"omitempty,min=1"`
	Description     string            `validate:"max=500"`
	Metadata        map[string]string `validate:"-"`
	CreatedBy       string            `validate:"required"`
}

// GenerateIdempotencyKey is deterministic for (type, scope, referenceID).
// Passing at appends a timestamp, which makes every attempt a distinct
// posting; leave it out wherever at-most-once is required.
func GenerateIdempotencyKey(t EntryType, scope, referenceID string, at ...time.Time) string {
	parts := []string{string(t), scope, referenceID}
	if len(at) > 0 {
		parts = append(parts, strconv.FormatInt(at[0].UnixNano(), 10))
	}
	return strings.Join(parts, ":")
}

const (
	ActorSystem  = "system"
	ActorWebhook = "webhook"
	ActorBuyer   = "buyer"
	ActorAdmin   = "admin"
)

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderPaid           OrderStatus = "PAID"
	OrderInProgress     OrderStatus = "IN_PROGRESS"
	OrderDisputed       OrderStatus = "DISPUTED"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderRefunded       OrderStatus = "REFUNDED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderRefunded || s == OrderCancelled
}

// transitions lists, per target status, the statuses it may be entered from.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPaid:       {OrderPendingPayment},
	OrderInProgress: {OrderPaid},
	OrderCompleted:  {OrderPaid, OrderInProgress, OrderDisputed},
	OrderDisputed:   {OrderPaid, OrderInProgress},
	OrderRefunded:   {OrderPaid, OrderInProgress, OrderDisputed},
	OrderCancelled:  {OrderPendingPayment, OrderPaid, OrderInProgress},
}

// CanTransition reports whether from -> to is an edge of the settlement machine.
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

type Order struct {
	ID                  uuid.UUID       `json:"id"`
	RequestID           string          `json:"request_id"`
	BuyerID             string          `json:"buyer_id"`
	TravelerID          string          `json:"traveler_id"`
	GoodsValue          decimal.Decimal `json:"goods_value"`
	DutyFree            bool            `json:"duty_free"`
	DutyAmount          decimal.Decimal `json:"duty_amount"`
	PlatformFee         decimal.Decimal `json:"platform_fee"`
	TravellerServiceFee decimal.Decimal `json:"traveller_service_fee"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	TravelerAmount      decimal.Decimal `json:"traveler_amount"`
	Currency            string          `json:"currency"`
	Status              OrderStatus     `json:"status"`
	ReleaseAt           *time.Time      `json:"release_at,omitempty"`
	PaymentIntentID     string          `json:"payment_intent_id,omitempty"`
	PaymentClientSecret string          `json:"payment_client_secret,omitempty"`
	ChargeID            string          `json:"charge_id,omitempty"`
	RefundID            string          `json:"refund_id,omitempty"`
	LastPaymentError    string          `json:"last_payment_error,omitempty"`
	DisputeReason       string          `json:"dispute_reason,omitempty"`
	Resolution          string          `json:"resolution,omitempty"`
	PaidAt              *time.Time      `json:"paid_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	RefundedAt          *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TransitionTo moves the order to next or fails with ErrInvalidStateTransition
// leaving the order untouched.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !CanTransition(o.Status, next) {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidStateTransition, o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	switch next {
	case OrderPaid:
		o.PaidAt = &now
	case OrderCompleted:
		o.CompletedAt = &now
	case OrderCancelled:
		o.CancelledAt = &now
	case OrderRefunded:
		o.RefundedAt = &now
	}
	return nil
}

// Require fails unless the order is currently in one of allowed.
func (o *Order) Require(allowed ...OrderStatus) error {
	for _, s := range allowed {
		if o.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: order %s is %s", ErrInvalidStateTransition, o.ID, o.Status)
}

type CreateOrderReq struct {
	RequestID  string          `json:"request_id" validate:"required"`
	BuyerID    string          `json:"buyer_id" validate:"required"`
	TravelerID string          `json:"traveler_id" validate:"required,nefield=BuyerID"`
	GoodsValue decimal.Decimal `json:"goods_value" validate:"-"`
	DutyFree   bool            `json:"duty_free"`
	DutyAmount decimal.Decimal `json:"duty_amount" validate:"-"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
}

type FeeSchedule struct {
	PlatformFeeRate         decimal.Decimal
	TravellerServiceFeeRate decimal.Decimal
}

type OrderAmounts struct {
	PlatformFee         decimal.Decimal
	TravellerServiceFee decimal.Decimal
	DutyAmount          decimal.Decimal
	TotalAmount         decimal.Decimal
	TravelerAmount      decimal.Decimal
}

// Compute derives every order amount once, at creation. The traveller is
// owed the service fee plus any duty they advance; the platform keeps its fee.
func (f FeeSchedule) Compute(goodsValue, duty decimal.Decimal, dutyFree bool) OrderAmounts {
	if dutyFree {
		duty = decimal.Zero
	}
	platformFee := goodsValue.Mul(f.PlatformFeeRate).Round(2)
	serviceFee := goodsValue.Mul(f.TravellerServiceFeeRate).Round(2)
	duty = duty.Round(2)
	return OrderAmounts{
		PlatformFee:         platformFee,
		TravellerServiceFee: serviceFee,
		DutyAmount:          duty,
		TotalAmount:         goodsValue.Add(platformFee).Add(serviceFee).Add(duty),
		TravelerAmount:      serviceFee.Add(duty),
	}
}

type DisputeOutcome string

const (
	TravelerWins DisputeOutcome = "traveler_wins"
	BuyerWins    DisputeOutcome = "buyer_wins"
)

func (o DisputeOutcome) Valid() bool { return o == TravelerWins || o == BuyerWins }

type ReleaseError struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  Reason    `json:"reason"`
	Error   string    `json:"error"`
}

type ReleaseResult struct {
	Released int            `json:"released"`
	Errors   []ReleaseError `json:"errors"`
	Total    int            `json:"total"`
}

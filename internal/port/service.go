package port

import (
	"context"
	"escrowledger/internal/domain"

	"github.com/google/uuid"
)

type WalletService interface {
	GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	GetOrCreatePlatformAccount(ctx context.Context, name domain.PlatformAccountName) (*domain.Account, error)
	GetWalletDetails(ctx context.Context, userID string) (*domain.WalletDetails, error)
}

type LedgerService interface {
	PostLedgerEntry(ctx context.Context, req *domain.PostingReq) (*domain.LedgerEntry, error)
	ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.LedgerEntry, error)
}

type PaymentConfirmation struct {
	EventID         string
	PaymentIntentID string
	ChargeID        string
}

type OrderService interface {
	CreateOrder(ctx context.Context, req *domain.CreateOrderReq) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, conf PaymentConfirmation) (*domain.Order, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string) error
	StartOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// CompleteOrder releases the traveller's funds. idempotencyKey empty means
	// the natural per-order key.
	CompleteOrder(ctx context.Context, id uuid.UUID, actor, idempotencyKey string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID, reason string) (*domain.Order, error)
	// RefundOrder books a refund the processor already executed.
	RefundOrder(ctx context.Context, id uuid.UUID, providerEventID, refundID string) (*domain.Order, error)
}

type DisputeService interface {
	Open(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error)
	Resolve(ctx context.Context, orderID uuid.UUID, outcome domain.DisputeOutcome, reason string) (*domain.Order, error)
	ResolveChargeback(ctx context.Context, orderID uuid.UUID, providerEventID string, won bool) (*domain.Order, error)
}

type PayoutService interface {
	RequestPayout(ctx context.Context, req *domain.PayoutReq) (*domain.PayoutRequest, error)
	ProcessPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	MarkPayoutPaid(ctx context.Context, externalID, providerEventID string) (*domain.PayoutRequest, error)
	MarkPayoutFailed(ctx context.Context, externalID, code, reason string) (*domain.PayoutRequest, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
}

type ReleaseService interface {
	RunAutoRelease(ctx context.Context) (*domain.ReleaseResult, error)
}

type Reconciler interface {
	HandlePaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error
}

package port

import (
	"context"
	"escrowledger/internal/domain"
	"time"
)

// PaymentProcessor is the external processor. Implementations convert between
// decimal major units and the processor's minor units.
type PaymentProcessor interface {
	CreatePaymentIntent(ctx context.Context, o *domain.Order) (*domain.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
	CreateRefund(ctx context.Context, req *domain.RefundReq) (*domain.Refund, error)
	CreateTransfer(ctx context.Context, req *domain.TransferReq) (*domain.Transfer, error)
	RetrieveAccountBalance(ctx context.Context, accountID string) ([]domain.Money, error)
	// VerifyEvent checks the webhook signature before anything is parsed.
	VerifyEvent(payload []byte, signature string) (*domain.PaymentEvent, error)
}

// EventCache is a shared fast-path record of acknowledged provider events.
type EventCache interface {
	Seen(ctx context.Context, providerEventID string) (bool, error)
	MarkSeen(ctx context.Context, providerEventID string, ttl time.Duration) error
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev *domain.SettlementEvent) error
}

// EventQueue hands verified payment events to the reconciliation worker.
type EventQueue interface {
	Enqueue(ctx context.Context, ev *domain.PaymentEvent) error
}

type Authorizer interface {
	CanResolveDisputes(ctx context.Context, actorID string) bool
	CanProcessPayouts(ctx context.Context, actorID string) bool
}

package port

import (
	"context"
	"escrowledger/internal/domain"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxManager runs fn inside one database transaction carried by the context.
// A call made with a context that already holds a transaction joins it.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	// InTx reports whether ctx already carries a transaction.
	InTx(ctx context.Context) bool
}

type WalletRepository interface {
	// Ensure creates the wallet and any missing accounts, then returns the full set.
	Ensure(ctx context.Context, userID, currency string) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error)
}

type AccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	EnsurePlatform(ctx context.Context, name domain.PlatformAccountName, currency string) (*domain.Account, error)
	// LockByIDs takes row locks in ascending id order and returns the rows by id.
	LockByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error)
	AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
}

// Lookups by idempotency key, provider event id or external id return nil, nil
// when nothing matches.
type LedgerRepository interface {
	Create(ctx context.Context, e *domain.LedgerEntry) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error)
	GetByProviderEventID(ctx context.Context, eventID string) (*domain.LedgerEntry, error)
	ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.LedgerEntry, error)
	ListByAccounts(ctx context.Context, accountIDs []uuid.UUID, limit int) ([]*domain.LedgerEntry, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	ListReleasable(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error)
}

type PayoutRepository interface {
	Create(ctx context.Context, p *domain.PayoutRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutRequest, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.PayoutRequest, error)
	Update(ctx context.Context, p *domain.PayoutRequest) error
	// SumOutstanding totals PENDING and PROCESSING requests of a wallet.
	SumOutstanding(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
}

type PayoutDestinationRepository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.PayoutDestination, error)
}

type ProcessedEventRepository interface {
	Exists(ctx context.Context, providerEventID string) (bool, error)
	Record(ctx context.Context, ev *domain.ProcessedEvent) error
}

// RequestReopener puts the delivery request behind an order back on the market.
type RequestReopener interface {
	Reopen(ctx context.Context, requestID string) error
}

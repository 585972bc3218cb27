package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"escrowledger/internal/config"
	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Settings struct {
	Currency         string
	Fees             domain.FeeSchedule
	HoldingPeriod    time.Duration
	ReleaseBatchSize int
	EventTTL         time.Duration
	Now              func() time.Time
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Currency: cfg.Ledger.Currency,
		Fees: domain.FeeSchedule{
			PlatformFeeRate:         cfg.Ledger.PlatformRate(),
			TravellerServiceFeeRate: cfg.Ledger.TravellerRate(),
		},
		HoldingPeriod:    cfg.Ledger.HoldingPeriod,
		ReleaseBatchSize: cfg.Ledger.ReleaseBatchSize,
		EventTTL:         cfg.Redis.EventTTL,
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func validationErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

// checkAmount accepts positive amounts with at most two decimal places.
func checkAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", domain.ErrValidation, field)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", domain.ErrValidation, field)
	}
	return nil
}

// settlement holds what every order-moving flow shares: the locked
// read-modify-write of one order and the postings that go with it.
type settlement struct {
	tx        port.TxManager
	orders    port.OrderRepository
	wallets   port.WalletService
	ledger    port.LedgerService
	reopener  port.RequestReopener
	publisher port.EventPublisher
	settings  Settings
	validate  *validator.Validate
	logger    *zap.Logger
}

// transition locks the order, lets fn validate and mutate it and post its
// ledger effects, then persists it, all in one transaction. Nothing is
// published unless the transaction commits.
func (s *settlement) transition(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, o *domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		o, err := s.orders.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if err := fn(txCtx, o); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !s.tx.InTx(ctx) {
		s.announce(ctx, order)
	}
	return order, nil
}

func (s *settlement) announce(ctx context.Context, o *domain.Order) {
	metrics.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	s.publish(ctx, "order."+strings.ToLower(string(o.Status)), &domain.SettlementEvent{
		Type:       "order.status_changed",
		OrderID:    o.ID.String(),
		UserID:     o.TravelerID,
		Status:     string(o.Status),
		Amount:     o.TravelerAmount,
		Currency:   o.Currency,
		OccurredAt: o.UpdatedAt,
	})
}

// publish is best-effort; the ledger is the record, the event is a notification.
func (s *settlement) publish(ctx context.Context, routingKey string, ev *domain.SettlementEvent) {
	if err := s.publisher.Publish(ctx, routingKey, ev); err != nil {
		s.logger.Warn("publish settlement event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func (s *settlement) travelerAccount(ctx context.Context, o *domain.Order, t domain.AccountType) (*domain.Account, error) {
	w, err := s.wallets.GetOrCreateWallet(ctx, o.TravelerID)
	if err != nil {
		return nil, err
	}
	a, ok := w.Account(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s account of %s", domain.ErrAccountNotFound, t, o.TravelerID)
	}
	return a, nil
}

type posting struct {
	Type        domain.EntryType
	From, To    *domain.Account
	Amount      decimal.Decimal
	Key         string
	EventID     string
	Description string
	Actor       string
	Metadata    map[string]string
}

// post books one movement for order o. Zero amounts post nothing.
func (s *settlement) post(ctx context.Context, o *domain.Order, p posting) error {
	if p.Amount.IsZero() {
		return nil
	}
	key := p.Key
	if key == "" {
		key = domain.GenerateIdempotencyKey(p.Type, "order", o.ID.String())
	}
	req := &domain.PostingReq{
		Type:            p.Type,
		Amount:          p.Amount,
		Currency:        o.Currency,
		DebitAccountID:  p.From.ID,
		CreditAccountID: p.To.ID,
		ReferenceType:   domain.ReferenceOrder,
		ReferenceID:     o.ID.String(),
		IdempotencyKey:  key,
		Description:     p.Description,
		Metadata:        p.Metadata,
		CreatedBy:       p.Actor,
	}
	if p.EventID != "" {
		req.ProviderEventID = &p.EventID
	}
	_, err := s.ledger.PostLedgerEntry(ctx, req)
	return err
}

// refundSource is the traveller account holding the order's funds: FROZEN
// while disputed, PENDING otherwise.
func (s *settlement) refundSource(ctx context.Context, o *domain.Order) (*domain.Account, error) {
	if o.Status == domain.OrderDisputed {
		return s.travelerAccount(ctx, o, domain.AccountFrozen)
	}
	return s.travelerAccount(ctx, o, domain.AccountPending)
}

// reverseToEscrow returns the traveller's held share to PLATFORM_ESCROW and
// moves the order to REFUNDED. The caller has already refunded the buyer at
// the processor or is booking a refund the processor reported.
func (s *settlement) reverseToEscrow(ctx context.Context, o *domain.Order, t domain.EntryType, eventID, actor, note string) error {
	source, err := s.refundSource(ctx, o)
	if err != nil {
		return err
	}
	escrow, err := s.wallets.GetOrCreatePlatformAccount(ctx, domain.PlatformEscrow)
	if err != nil {
		return err
	}
	if err := o.TransitionTo(domain.OrderRefunded, s.settings.now()); err != nil {
		return err
	}
	if err := s.post(ctx, o, posting{
		Type:        t,
		From:        source,
		To:          escrow,
		Amount:      o.TravelerAmount,
		EventID:     eventID,
		Description: note,
		Actor:       actor,
		Metadata:    map[string]string{"source_account": string(source.Type)},
	}); err != nil {
		return err
	}
	return s.reopener.Reopen(ctx, o.RequestID)
}

package service

import (
	"context"
	"fmt"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type disputeService struct {
	settlement
	processor port.PaymentProcessor
}

func NewDisputeService(
	tx port.TxManager,
	orders port.OrderRepository,
	wallets port.WalletService,
	ledger port.LedgerService,
	processor port.PaymentProcessor,
	reopener port.RequestReopener,
	publisher port.EventPublisher,
	settings Settings,
	logger *zap.Logger,
) port.DisputeService {
	return &disputeService{
		settlement: settlement{
			tx:        tx,
			orders:    orders,
			wallets:   wallets,
			ledger:    ledger,
			reopener:  reopener,
			publisher: publisher,
			settings:  settings,
			validate:  validator.New(),
			logger:    logger,
		},
		processor: processor,
	}
}

// Open freezes the traveller's share, taking it from PENDING or, when PENDING
// no longer holds it, from AVAILABLE.
func (s *disputeService) Open(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderPaid, domain.OrderInProgress); err != nil {
			return err
		}

		w, err := s.wallets.GetOrCreateWallet(ctx, o.TravelerID)
		if err != nil {
			return err
		}
		source, _ := w.Account(domain.AccountPending)
		if source.Balance.LessThan(o.TravelerAmount) {
			if available, _ := w.Account(domain.AccountAvailable); available.Balance.GreaterThanOrEqual(o.TravelerAmount) {
				source = available
			}
		}
		frozen, _ := w.Account(domain.AccountFrozen)

		if err := o.TransitionTo(domain.OrderDisputed, s.settings.now()); err != nil {
			return err
		}
		o.DisputeReason = reason

		return s.post(ctx, o, posting{
			Type:        domain.EntryFreeze,
			From:        source,
			To:          frozen,
			Amount:      o.TravelerAmount,
			Description: "dispute opened: " + reason,
			Actor:       domain.ActorBuyer,
			Metadata:    map[string]string{"source_account": string(source.Type)},
		})
	})
}

func (s *disputeService) Resolve(ctx context.Context, orderID uuid.UUID, outcome domain.DisputeOutcome, reason string) (*domain.Order, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown dispute outcome %q", domain.ErrValidation, outcome)
	}
	if outcome == domain.TravelerWins {
		return s.releaseFrozen(ctx, orderID, "", domain.ActorAdmin, string(outcome)+": "+reason)
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := o.Require(domain.OrderDisputed); err != nil {
		return nil, err
	}

	refund, err := s.processor.CreateRefund(ctx, &domain.RefundReq{
		PaymentIntentID: o.PaymentIntentID,
		Amount:          o.TotalAmount,
		Currency:        o.Currency,
		Reason:          reason,
		IdempotencyKey:  "dispute-refund:" + o.ID.String(),
		Metadata:        map[string]string{"order_id": o.ID.String()},
	})
	if err != nil {
		return nil, err
	}

	refunded, err := s.transition(ctx, orderID, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderDisputed); err != nil {
			return err
		}
		o.RefundID = refund.ID
		o.Resolution = string(outcome) + ": " + reason
		return s.reverseToEscrow(ctx, o, domain.EntryRefund, "", domain.ActorAdmin, "dispute resolved for buyer")
	})
	if err != nil {
		s.logger.Error("CRITICAL: buyer refunded but dispute resolution not recorded",
			zap.Stringer("order_id", orderID), zap.String("refund_id", refund.ID), zap.Error(err))
		return nil, err
	}
	return refunded, nil
}

// ResolveChargeback settles a dispute the processor decided. A lost
// chargeback needs no refund call: the processor has already taken the funds
// back from the platform.
func (s *disputeService) ResolveChargeback(ctx context.Context, orderID uuid.UUID, providerEventID string, won bool) (*domain.Order, error) {
	if won {
		return s.releaseFrozen(ctx, orderID, providerEventID, domain.ActorWebhook, "chargeback won")
	}
	return s.transition(ctx, orderID, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderPaid, domain.OrderInProgress, domain.OrderDisputed); err != nil {
			return err
		}
		o.Resolution = "chargeback lost"
		return s.reverseToEscrow(ctx, o, domain.EntryChargeback, providerEventID, domain.ActorWebhook, "chargeback lost at processor")
	})
}

func (s *disputeService) releaseFrozen(ctx context.Context, orderID uuid.UUID, providerEventID, actor, resolution string) (*domain.Order, error) {
	return s.transition(ctx, orderID, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderDisputed); err != nil {
			return err
		}
		frozen, err := s.travelerAccount(ctx, o, domain.AccountFrozen)
		if err != nil {
			return err
		}
		available, err := s.travelerAccount(ctx, o, domain.AccountAvailable)
		if err != nil {
			return err
		}
		if err := o.TransitionTo(domain.OrderCompleted, s.settings.now()); err != nil {
			return err
		}
		o.Resolution = resolution
		return s.post(ctx, o, posting{
			Type:        domain.EntryUnfreeze,
			From:        frozen,
			To:          available,
			Amount:      o.TravelerAmount,
			EventID:     providerEventID,
			Description: "dispute resolved for traveller",
			Actor:       actor,
		})
	})
}

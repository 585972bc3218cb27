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

type orderService struct {
	settlement
	processor port.PaymentProcessor
}

func NewOrderService(
	tx port.TxManager,
	orders port.OrderRepository,
	wallets port.WalletService,
	ledger port.LedgerService,
	processor port.PaymentProcessor,
	reopener port.RequestReopener,
	publisher port.EventPublisher,
	settings Settings,
	logger *zap.Logger,
) port.OrderService {
	return &orderService{
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

// CreateOrder fixes every amount once and opens the payment intent before
// the order is stored, so a stored order always has somewhere to be paid.
func (s *orderService) CreateOrder(ctx context.Context, req *domain.CreateOrderReq) (*domain.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}
	if err := checkAmount("goods_value", req.GoodsValue); err != nil {
		return nil, err
	}
	if req.DutyAmount.IsNegative() {
		return nil, fmt.Errorf("%w: duty_amount must not be negative", domain.ErrValidation)
	}
	if req.Currency == "" {
		req.Currency = s.settings.Currency
	}
	if req.Currency != s.settings.Currency {
		return nil, fmt.Errorf("%w: orders are settled in %s", domain.ErrValidation, s.settings.Currency)
	}

	amounts := s.settings.Fees.Compute(req.GoodsValue, req.DutyAmount, req.DutyFree)
	now := s.settings.now()

	o := &domain.Order{
		ID:                  uuid.New(),
		RequestID:           req.RequestID,
		BuyerID:             req.BuyerID,
		TravelerID:          req.TravelerID,
		GoodsValue:          req.GoodsValue,
		DutyFree:            req.DutyFree,
		DutyAmount:          amounts.DutyAmount,
		PlatformFee:         amounts.PlatformFee,
		TravellerServiceFee: amounts.TravellerServiceFee,
		TotalAmount:         amounts.TotalAmount,
		TravelerAmount:      amounts.TravelerAmount,
		Currency:            req.Currency,
		Status:              domain.OrderPendingPayment,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, o)
	if err != nil {
		return nil, err
	}
	o.PaymentIntentID = intent.ID
	o.PaymentClientSecret = intent.ClientSecret

	if err := s.orders.Create(ctx, o); err != nil {
		s.logger.Error("order not stored after payment intent was created",
			zap.Stringer("order_id", o.ID), zap.String("payment_intent_id", intent.ID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("order created",
		zap.Stringer("order_id", o.ID),
		zap.String("total_amount", o.TotalAmount.String()),
		zap.String("traveler_amount", o.TravelerAmount.String()),
	)
	s.announce(ctx, o)
	return o, nil
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// MarkPaid books a captured payment: the full charge lands in escrow, the
// platform fee is allocated, and the traveller's share is held in PENDING.
func (s *orderService) MarkPaid(ctx context.Context, id uuid.UUID, conf port.PaymentConfirmation) (*domain.Order, error) {
	return s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
		now := s.settings.now()
		if err := o.TransitionTo(domain.OrderPaid, now); err != nil {
			return err
		}

		escrow, err := s.wallets.GetOrCreatePlatformAccount(ctx, domain.PlatformEscrow)
		if err != nil {
			return err
		}
		fees, err := s.wallets.GetOrCreatePlatformAccount(ctx, domain.PlatformFees)
		if err != nil {
			return err
		}
		pending, err := s.travelerAccount(ctx, o, domain.AccountPending)
		if err != nil {
			return err
		}

		if conf.PaymentIntentID != "" {
			o.PaymentIntentID = conf.PaymentIntentID
		}
		o.ChargeID = conf.ChargeID
		o.LastPaymentError = ""
		releaseAt := now.Add(s.settings.HoldingPeriod)
		o.ReleaseAt = &releaseAt

		meta := map[string]string{"payment_intent_id": o.PaymentIntentID, "charge_id": o.ChargeID}
		postings := []posting{
			{Type: domain.EntryDeposit, From: escrow, To: escrow, Amount: o.TotalAmount,
				EventID: conf.EventID, Description: "buyer payment captured into escrow", Metadata: meta},
			{Type: domain.EntryFeeAllocation, From: fees, To: fees, Amount: o.PlatformFee,
				Description: "platform fee allocated"},
			{Type: domain.EntryEscrowHold, From: escrow, To: pending, Amount: o.TravelerAmount,
				Description: "traveller share held pending delivery"},
		}
		for _, p := range postings {
			p.Actor = domain.ActorWebhook
			if err := s.post(ctx, o, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkPaymentFailed records the processor's reason; the order stays payable.
func (s *orderService) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderPendingPayment); err != nil {
			return err
		}
		o.LastPaymentError = reason
		o.UpdatedAt = s.settings.now()
		return nil
	})
	return err
}

func (s *orderService) StartOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
		return o.TransitionTo(domain.OrderInProgress, s.settings.now())
	})
}

func clientReleaseKey(orderID uuid.UUID, clientKey string) string {
	return domain.GenerateIdempotencyKey(domain.EntryRelease, "order:"+orderID.String()+":client", clientKey)
}

func (s *orderService) CompleteOrder(ctx context.Context, id uuid.UUID, actor, idempotencyKey string) (*domain.Order, error) {
	if actor == "" {
		actor = domain.ActorBuyer
	}
	return s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderPaid, domain.OrderInProgress); err != nil {
			return err
		}
		if err := o.TransitionTo(domain.OrderCompleted, s.settings.now()); err != nil {
			return err
		}

		pending, err := s.travelerAccount(ctx, o, domain.AccountPending)
		if err != nil {
			return err
		}
		available, err := s.travelerAccount(ctx, o, domain.AccountAvailable)
		if err != nil {
			return err
		}
		key := ""
		if idempotencyKey != "" {
			// Caller keys live in their own per-order namespace.
			key = clientReleaseKey(o.ID, idempotencyKey)
		}
		return s.post(ctx, o, posting{
			Type:        domain.EntryRelease,
			From:        pending,
			To:          available,
			Amount:      o.TravelerAmount,
			Key:         key,
			Description: "delivery confirmed, funds released",
			Actor:       actor,
		})
	})
}

// CancelOrder cancels before capture by voiding the intent, and after
// capture by refunding the buyer first and then reversing the traveller's
// held share. The processor is always called before anything local changes.
func (s *orderService) CancelOrder(ctx context.Context, id uuid.UUID, reason string) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.Require(domain.OrderPendingPayment, domain.OrderPaid, domain.OrderInProgress); err != nil {
		return nil, err
	}

	if o.Status == domain.OrderPendingPayment {
		if o.PaymentIntentID != "" {
			if err := s.processor.CancelPaymentIntent(ctx, o.PaymentIntentID); err != nil {
				return nil, err
			}
		}
		return s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
			o.Resolution = reason
			return o.TransitionTo(domain.OrderCancelled, s.settings.now())
		})
	}

	refund, err := s.processor.CreateRefund(ctx, &domain.RefundReq{
		PaymentIntentID: o.PaymentIntentID,
		Amount:          o.TotalAmount,
		Currency:        o.Currency,
		Reason:          reason,
		IdempotencyKey:  "order-cancel-refund:" + o.ID.String(),
		Metadata:        map[string]string{"order_id": o.ID.String()},
	})
	if err != nil {
		return nil, err
	}

	cancelled, err := s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderPaid, domain.OrderInProgress); err != nil {
			return err
		}
		pending, err := s.travelerAccount(ctx, o, domain.AccountPending)
		if err != nil {
			return err
		}
		escrow, err := s.wallets.GetOrCreatePlatformAccount(ctx, domain.PlatformEscrow)
		if err != nil {
			return err
		}
		if err := o.TransitionTo(domain.OrderCancelled, s.settings.now()); err != nil {
			return err
		}
		o.RefundID = refund.ID
		o.Resolution = reason
		if err := s.post(ctx, o, posting{
			Type:        domain.EntryCancelReversal,
			From:        pending,
			To:          escrow,
			Amount:      o.TravelerAmount,
			Description: "order cancelled after payment, traveller share reversed",
			Actor:       domain.ActorBuyer,
			Metadata:    map[string]string{"refund_id": refund.ID},
		}); err != nil {
			return err
		}
		return s.reopener.Reopen(ctx, o.RequestID)
	})
	if err != nil {
		s.logger.Error("CRITICAL: buyer refunded but order cancellation not recorded",
			zap.Stringer("order_id", id), zap.String("refund_id", refund.ID), zap.Error(err))
		return nil, err
	}
	return cancelled, nil
}

// RefundOrder books a refund the processor has already executed.
func (s *orderService) RefundOrder(ctx context.Context, id uuid.UUID, providerEventID, refundID string) (*domain.Order, error) {
	return s.transition(ctx, id, func(ctx context.Context, o *domain.Order) error {
		if err := o.Require(domain.OrderPaid, domain.OrderInProgress, domain.OrderDisputed); err != nil {
			return err
		}
		o.RefundID = refundID
		return s.reverseToEscrow(ctx, o, domain.EntryRefund, providerEventID, domain.ActorWebhook, "charge refunded at processor")
	})
}

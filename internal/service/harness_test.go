package service

import (
	"context"
	"testing"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	store     *memStore
	cache     *memCache
	publisher *memPublisher
	processor *fakeProcessor
	clock     *time.Time

	wallets    port.WalletService
	ledger     port.LedgerService
	orders     port.OrderService
	disputes   port.DisputeService
	payouts    port.PayoutService
	releases   port.ReleaseService
	reconciler port.Reconciler
}

func testSettings(clock *time.Time) Settings {
	return Settings{
		Currency: "USD",
		Fees: domain.FeeSchedule{
			PlatformFeeRate:         decimal.RequireFromString("0.05"),
			TravellerServiceFeeRate: decimal.RequireFromString("0.15"),
		},
		HoldingPeriod:    14 * 24 * time.Hour,
		ReleaseBatchSize: 100,
		EventTTL:         time.Hour,
		Now:              func() time.Time { return *clock },
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{
		store:     newMemStore(),
		cache:     newMemCache(),
		publisher: &memPublisher{},
		processor: newFakeProcessor(),
		clock:     &now,
	}
	s, logger := h.store, zap.NewNop()
	settings := testSettings(h.clock)

	h.wallets = NewWalletService(s, s.walletRepo(), s.accountRepo(), s.ledgerRepo(), s.payoutRepo(),
		s.destinationRepo(), h.processor, settings, logger)
	h.ledger = NewLedgerService(s, s.accountRepo(), s.ledgerRepo(), settings, logger)
	h.orders = NewOrderService(s, s.orderRepo(), h.wallets, h.ledger, h.processor, s.reopener(),
		h.publisher, settings, logger)
	h.disputes = NewDisputeService(s, s.orderRepo(), h.wallets, h.ledger, h.processor, s.reopener(),
		h.publisher, settings, logger)
	h.payouts = NewPayoutService(s, s.payoutRepo(), s.destinationRepo(), s.accountRepo(), h.wallets, h.ledger,
		h.processor, h.publisher, settings, logger)
	h.releases = NewReleaseService(s.orderRepo(), h.orders, settings, logger)
	h.reconciler = NewReconciler(s.orderRepo(), s.payoutRepo(), s.ledgerRepo(), s.processedRepo(), h.cache,
		h.orders, h.disputes, h.payouts, settings, logger)
	return h
}

func (h *harness) advance(d time.Duration) { *h.clock = h.clock.Add(d) }

// createOrder places an order for a fresh request.
func (h *harness) createOrder(t *testing.T, traveler string, goods, duty string, dutyFree bool) *domain.Order {
	t.Helper()
	req := &domain.CreateOrderReq{
		RequestID:  "req-" + uuid.NewString(),
		BuyerID:    "buyer-1",
		TravelerID: traveler,
		GoodsValue: decimal.RequireFromString(goods),
		DutyFree:   dutyFree,
		DutyAmount: decimal.RequireFromString(duty),
	}
	o, err := h.orders.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	return o
}

func (h *harness) paymentSucceeded(o *domain.Order, eventID string) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		ID:              eventID,
		Type:            domain.EventPaymentSucceeded,
		ProviderType:    "payment_intent.succeeded",
		OrderID:         o.ID.String(),
		PaymentIntentID: o.PaymentIntentID,
		ChargeID:        "ch_" + eventID,
		Amount:          o.TotalAmount,
		Currency:        o.Currency,
		OccurredAt:      *h.clock,
	}
}

// paidOrder creates an order and reconciles its payment.
func (h *harness) paidOrder(t *testing.T, traveler, goods, duty string, dutyFree bool) *domain.Order {
	t.Helper()
	o := h.createOrder(t, traveler, goods, duty, dutyFree)
	require.NoError(t, h.reconciler.HandlePaymentEvent(context.Background(), h.paymentSucceeded(o, "evt_pay_"+o.ID.String())))
	return h.store.order(o.ID)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

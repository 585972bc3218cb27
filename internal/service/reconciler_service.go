package service

import (
	"context"
	"errors"
	"fmt"

	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type reconciler struct {
	orderRepo  port.OrderRepository
	payoutRepo port.PayoutRepository
	entries    port.LedgerRepository
	processed  port.ProcessedEventRepository
	cache      port.EventCache
	orders     port.OrderService
	disputes   port.DisputeService
	payouts    port.PayoutService
	settings   Settings
	logger     *zap.Logger
}

func NewReconciler(
	orderRepo port.OrderRepository,
	payoutRepo port.PayoutRepository,
	entries port.LedgerRepository,
	processed port.ProcessedEventRepository,
	cache port.EventCache,
	orders port.OrderService,
	disputes port.DisputeService,
	payouts port.PayoutService,
	settings Settings,
	logger *zap.Logger,
) port.Reconciler {
	return &reconciler{
		orderRepo:  orderRepo,
		payoutRepo: payoutRepo,
		entries:    entries,
		processed:  processed,
		cache:      cache,
		orders:     orders,
		disputes:   disputes,
		payouts:    payouts,
		settings:   settings,
		logger:     logger,
	}
}

// HandlePaymentEvent applies a verified processor event at most once. A nil
// return means the event may be acknowledged; only retryable errors are
// returned, so redelivery is requested exactly when it can help.
func (r *reconciler) HandlePaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: payment event without id", domain.ErrValidation)
	}
	log := r.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))

	seen, err := r.alreadyHandled(ctx, ev)
	if err != nil {
		return err
	}
	if seen {
		log.Debug("duplicate payment event acknowledged")
		metrics.ObserveEvent(ev.Type, string(domain.OutcomeDuplicate))
		return nil
	}

	outcome, detail, err := r.dispatch(ctx, ev)
	switch {
	case err == nil:
	case domain.Retryable(err):
		log.Error("payment event failed, requesting redelivery", zap.Error(err))
		metrics.ObserveEvent(ev.Type, "retry")
		return err
	case errors.Is(err, domain.ErrInsufficientFunds):
		log.Error("payment event cannot be applied, operator action needed", zap.Error(err))
		outcome, detail = domain.OutcomeIgnored, err.Error()
	default:
		log.Warn("payment event acknowledged without effect", zap.Error(err))
		outcome, detail = domain.OutcomeIgnored, err.Error()
	}

	if err := r.processed.Record(ctx, &domain.ProcessedEvent{
		ProviderEventID: ev.ID,
		Type:            ev.Type,
		Outcome:         outcome,
		Detail:          detail,
		ProcessedAt:     r.settings.now(),
	}); err != nil {
		return err
	}
	r.markSeen(ctx, ev.ID)

	log.Info("payment event handled", zap.String("outcome", string(outcome)))
	metrics.ObserveEvent(ev.Type, string(outcome))
	return nil
}

// alreadyHandled checks the shared cache, then the processed-event record,
// then the ledger itself.
func (r *reconciler) alreadyHandled(ctx context.Context, ev *domain.PaymentEvent) (bool, error) {
	if r.cache != nil {
		seen, err := r.cache.Seen(ctx, ev.ID)
		if err != nil {
			r.logger.Warn("event cache unavailable", zap.String("event_id", ev.ID), zap.Error(err))
		} else if seen {
			return true, nil
		}
	}

	done, err := r.processed.Exists(ctx, ev.ID)
	if err != nil {
		return false, err
	}
	if done {
		r.markSeen(ctx, ev.ID)
		return true, nil
	}

	entry, err := r.entries.GetByProviderEventID(ctx, ev.ID)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

func (r *reconciler) markSeen(ctx context.Context, eventID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.MarkSeen(ctx, eventID, r.settings.EventTTL); err != nil {
		r.logger.Warn("event cache write failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (r *reconciler) dispatch(ctx context.Context, ev *domain.PaymentEvent) (domain.EventOutcome, string, error) {
	switch ev.Type {
	case domain.EventPaymentSucceeded:
		o, err := r.resolveOrder(ctx, ev)
		if err != nil {
			return "", "", err
		}
		if !ev.Amount.Equal(o.TotalAmount) || (ev.Currency != "" && ev.Currency != o.Currency) {
			return "", "", fmt.Errorf("%w: order %s expects %s %s, processor captured %s %s",
				domain.ErrValidation, o.ID, o.TotalAmount, o.Currency, ev.Amount, ev.Currency)
		}
		_, err = r.orders.MarkPaid(ctx, o.ID, port.PaymentConfirmation{
			EventID:         ev.ID,
			PaymentIntentID: ev.PaymentIntentID,
			ChargeID:        ev.ChargeID,
		})
		return domain.OutcomeApplied, "order paid", err

	case domain.EventPaymentFailed:
		o, err := r.resolveOrder(ctx, ev)
		if err != nil {
			return "", "", err
		}
		return domain.OutcomeApplied, "payment failure recorded", r.orders.MarkPaymentFailed(ctx, o.ID, ev.FailureMessage)

	case domain.EventChargeRefunded:
		o, err := r.resolveOrder(ctx, ev)
		if err != nil {
			return "", "", err
		}
		if ev.Amount.LessThan(o.TotalAmount) {
			return "", "", fmt.Errorf("%w: partial refund of %s on order %s", domain.ErrValidation, ev.Amount, o.ID)
		}
		_, err = r.orders.RefundOrder(ctx, o.ID, ev.ID, ev.ChargeID)
		return domain.OutcomeApplied, "order refunded", err

	case domain.EventDisputeOpened:
		o, err := r.resolveOrder(ctx, ev)
		if err != nil {
			return "", "", err
		}
		_, err = r.disputes.Open(ctx, o.ID, "processor dispute: "+ev.DisputeReason)
		return domain.OutcomeApplied, "dispute opened", err

	case domain.EventDisputeClosed:
		o, err := r.resolveOrder(ctx, ev)
		if err != nil {
			return "", "", err
		}
		_, err = r.disputes.ResolveChargeback(ctx, o.ID, ev.ID, ev.DisputeWon())
		return domain.OutcomeApplied, "dispute closed: " + ev.DisputeStatus, err

	case domain.EventPayoutPaid, domain.EventTransferCreated:
		p, err := r.resolvePayout(ctx, ev)
		if err != nil {
			return "", "", err
		}
		_, err = r.payouts.MarkPayoutPaid(ctx, p.ExternalPayoutID, ev.ID)
		return domain.OutcomeApplied, "payout completed", err

	case domain.EventPayoutFailed, domain.EventTransferReversed:
		p, err := r.resolvePayout(ctx, ev)
		if err != nil {
			return "", "", err
		}
		_, err = r.payouts.MarkPayoutFailed(ctx, p.ExternalPayoutID, ev.FailureCode, ev.FailureMessage)
		return domain.OutcomeApplied, "payout failed", err

	default:
		return domain.OutcomeIgnored, "unhandled event type " + ev.ProviderType, nil
	}
}

// resolveOrder prefers the order id the intent was created with and falls
// back to the payment intent id.
func (r *reconciler) resolveOrder(ctx context.Context, ev *domain.PaymentEvent) (*domain.Order, error) {
	if ev.OrderID != "" {
		id, err := uuid.Parse(ev.OrderID)
		if err != nil {
			return nil, fmt.Errorf("%w: order_id metadata %q", domain.ErrValidation, ev.OrderID)
		}
		return r.orderRepo.GetByID(ctx, id)
	}
	if ev.PaymentIntentID != "" {
		return r.orderRepo.GetByPaymentIntentID(ctx, ev.PaymentIntentID)
	}
	return nil, fmt.Errorf("%w: event %s names no order", domain.ErrOrderNotFound, ev.ID)
}

// resolvePayout finds the payout by request id metadata or by the external
// transfer id. A payout still PENDING means the event overtook the local
// commit that marks it PROCESSING.
func (r *reconciler) resolvePayout(ctx context.Context, ev *domain.PaymentEvent) (*domain.PayoutRequest, error) {
	var (
		p   *domain.PayoutRequest
		err error
	)
	switch {
	case ev.PayoutRequestID != "":
		id, perr := uuid.Parse(ev.PayoutRequestID)
		if perr != nil {
			return nil, fmt.Errorf("%w: payout_request_id metadata %q", domain.ErrValidation, ev.PayoutRequestID)
		}
		p, err = r.payoutRepo.GetByID(ctx, id)
	case ev.ExternalID != "":
		p, err = r.payoutRepo.GetByExternalID(ctx, ev.ExternalID)
		if err == nil && p == nil {
			err = fmt.Errorf("%w: external id %s", domain.ErrPayoutNotFound, ev.ExternalID)
		}
	default:
		err = fmt.Errorf("%w: event %s names no payout", domain.ErrPayoutNotFound, ev.ID)
	}
	if err != nil {
		return nil, err
	}
	if p.Status == domain.PayoutPending {
		return nil, fmt.Errorf("%w: payout %s not yet processing", domain.ErrOutOfOrder, p.ID)
	}
	return p, nil
}

package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// zeroDecimal lists currencies Stripe expects in whole units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func exponent(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ToMinor converts a decimal major-unit amount to the processor's integer units.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(exponent(currency)).Round(0).IntPart()
}

func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -exponent(currency))
}

type processor struct {
	sc            *client.API
	webhookSecret string
	timeout       time.Duration
	logger        *zap.Logger
}

func NewProcessor(secretKey, webhookSecret string, timeout time.Duration, logger *zap.Logger) port.PaymentProcessor {
	return &processor{
		sc:            client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		timeout:       timeout,
		logger:        logger,
	}
}

// call bounds a processor request by the configured timeout and records its
// latency.
func (p *processor) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.ProcessorCallDuration.WithLabelValues(method))
	defer timer.ObserveDuration()

	if err := fn(ctx); err != nil {
		p.logger.Warn("processor call failed", zap.String("method", method), zap.Error(err))
		return mapErr(method, err)
	}
	return nil
}

// mapErr keeps request errors the processor will never accept apart from the
// transient ones a retry can fix.
func mapErr(method string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode == http.StatusConflict,
			se.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: %s", domain.ErrExternalProcessor, method, se.Msg)
		case se.HTTPStatusCode >= http.StatusBadRequest:
			return fmt.Errorf("%w: %s: %s (%s)", domain.ErrValidation, method, se.Msg, se.Code)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrExternalProcessor, method, err)
}

func (p *processor) CreatePaymentIntent(ctx context.Context, o *domain.Order) (*domain.PaymentIntent, error) {
	var pi *stripe.PaymentIntent
	err := p.call(ctx, "payment_intent.create", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(ToMinor(o.TotalAmount, o.Currency)),
			Currency: stripe.String(strings.ToLower(o.Currency)),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		params.Context = ctx
		params.SetIdempotencyKey("order-intent:" + o.ID.String())
		params.AddMetadata("order_id", o.ID.String())
		params.AddMetadata("request_id", o.RequestID)
		params.AddMetadata("buyer_id", o.BuyerID)
		params.AddMetadata("traveler_id", o.TravelerID)

		var err error
		pi, err = p.sc.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

func (p *processor) RetrievePaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	var pi *stripe.PaymentIntent
	err := p.call(ctx, "payment_intent.get", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx

		var err error
		pi, err = p.sc.PaymentIntents.Get(id, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

func (p *processor) CancelPaymentIntent(ctx context.Context, id string) error {
	return p.call(ctx, "payment_intent.cancel", func(ctx context.Context) error {
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		params.SetIdempotencyKey("intent-cancel:" + id)

		_, err := p.sc.PaymentIntents.Cancel(id, params)
		return err
	})
}

func (p *processor) CreateRefund(ctx context.Context, req *domain.RefundReq) (*domain.Refund, error) {
	var r *stripe.Refund
	err := p.call(ctx, "refund.create", func(ctx context.Context) error {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(req.PaymentIntentID),
			Amount:        stripe.Int64(ToMinor(req.Amount, req.Currency)),
			Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.IdempotencyKey)
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		if req.Reason != "" {
			params.AddMetadata("reason", req.Reason)
		}

		var err error
		r, err = p.sc.Refunds.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (p *processor) CreateTransfer(ctx context.Context, req *domain.TransferReq) (*domain.Transfer, error) {
	var t *stripe.Transfer
	err := p.call(ctx, "transfer.create", func(ctx context.Context) error {
		params := &stripe.TransferParams{
			Amount:      stripe.Int64(ToMinor(req.Amount, req.Currency)),
			Currency:    stripe.String(strings.ToLower(req.Currency)),
			Destination: stripe.String(req.DestinationAccountID),
			Metadata:    req.Metadata,
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.IdempotencyKey)

		var err error
		t, err = p.sc.Transfers.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.Transfer{ID: t.ID}, nil
}

func (p *processor) RetrieveAccountBalance(ctx context.Context, accountID string) ([]domain.Money, error) {
	var b *stripe.Balance
	err := p.call(ctx, "balance.get", func(ctx context.Context) error {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		params.SetStripeAccount(accountID)

		var err error
		b, err = p.sc.Balance.Get(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Money, 0, len(b.Available))
	for _, a := range b.Available {
		cur := strings.ToUpper(string(a.Currency))
		out = append(out, domain.Money{Amount: FromMinor(a.Amount, cur), Currency: cur})
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *domain.PaymentIntent {
	cur := strings.ToUpper(string(pi.Currency))
	return &domain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       FromMinor(pi.Amount, cur),
		Currency:     cur,
	}
}

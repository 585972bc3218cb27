package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"escrowledger/internal/domain"

	"github.com/stripe/stripe-go/v76/webhook"
)

type metadata map[string]string

// Event payloads are decoded into these reduced shapes rather than the full
// SDK objects; only the fields settlement reads are kept.
type intentObject struct {
	ID               string   `json:"id"`
	Amount           int64    `json:"amount"`
	Currency         string   `json:"currency"`
	LatestCharge     string   `json:"latest_charge"`
	Metadata         metadata `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type chargeObject struct {
	ID             string   `json:"id"`
	PaymentIntent  string   `json:"payment_intent"`
	AmountRefunded int64    `json:"amount_refunded"`
	Currency       string   `json:"currency"`
	Metadata       metadata `json:"metadata"`
}

type disputeObject struct {
	ID            string   `json:"id"`
	Charge        string   `json:"charge"`
	PaymentIntent string   `json:"payment_intent"`
	Amount        int64    `json:"amount"`
	Currency      string   `json:"currency"`
	Reason        string   `json:"reason"`
	Status        string   `json:"status"`
	Metadata      metadata `json:"metadata"`
}

type transferObject struct {
	ID       string   `json:"id"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	Metadata metadata `json:"metadata"`
}

type payoutObject struct {
	ID             string   `json:"id"`
	Amount         int64    `json:"amount"`
	Currency       string   `json:"currency"`
	FailureCode    string   `json:"failure_code"`
	FailureMessage string   `json:"failure_message"`
	Metadata       metadata `json:"metadata"`
}

var eventTypes = map[string]domain.PaymentEventType{
	"payment_intent.succeeded":      domain.EventPaymentSucceeded,
	"payment_intent.payment_failed": domain.EventPaymentFailed,
	"charge.refunded":               domain.EventChargeRefunded,
	"charge.dispute.created":        domain.EventDisputeOpened,
	"charge.dispute.closed":         domain.EventDisputeClosed,
	"payout.paid":                   domain.EventPayoutPaid,
	"payout.failed":                 domain.EventPayoutFailed,
	"transfer.created":              domain.EventTransferCreated,
	"transfer.reversed":             domain.EventTransferReversed,
}

// VerifyEvent rejects any payload whose Stripe-Signature does not match the
// endpoint secret, then reduces the event to a domain.PaymentEvent. Event
// types settlement does not handle come back as EventUnknown.
func (p *processor) VerifyEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: webhook signature: %v", domain.ErrUnauthorized, err)
	}

	out := &domain.PaymentEvent{
		ID:           ev.ID,
		Type:         domain.EventUnknown,
		ProviderType: string(ev.Type),
		OccurredAt:   time.Unix(ev.Created, 0).UTC(),
	}
	t, ok := eventTypes[string(ev.Type)]
	if !ok || ev.Data == nil {
		return out, nil
	}
	out.Type = t

	if err := decodeObject(ev.Data.Raw, out); err != nil {
		return nil, fmt.Errorf("%w: event %s: %v", domain.ErrValidation, ev.ID, err)
	}
	return out, nil
}

func decodeObject(raw json.RawMessage, out *domain.PaymentEvent) error {
	switch out.Type {
	case domain.EventPaymentSucceeded, domain.EventPaymentFailed:
		var o intentObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out.PaymentIntentID = o.ID
		out.ChargeID = o.LatestCharge
		out.OrderID = o.Metadata["order_id"]
		setAmount(out, o.Amount, o.Currency)
		if o.LastPaymentError != nil {
			out.FailureCode = o.LastPaymentError.Code
			out.FailureMessage = o.LastPaymentError.Message
		}

	case domain.EventChargeRefunded:
		var o chargeObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out.ChargeID = o.ID
		out.PaymentIntentID = o.PaymentIntent
		out.OrderID = o.Metadata["order_id"]
		setAmount(out, o.AmountRefunded, o.Currency)

	case domain.EventDisputeOpened, domain.EventDisputeClosed:
		var o disputeObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out.ExternalID = o.ID
		out.ChargeID = o.Charge
		out.PaymentIntentID = o.PaymentIntent
		out.OrderID = o.Metadata["order_id"]
		out.DisputeReason = o.Reason
		out.DisputeStatus = o.Status
		setAmount(out, o.Amount, o.Currency)

	case domain.EventTransferCreated, domain.EventTransferReversed:
		var o transferObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out.ExternalID = o.ID
		out.PayoutRequestID = o.Metadata["payout_request_id"]
		setAmount(out, o.Amount, o.Currency)

	case domain.EventPayoutPaid, domain.EventPayoutFailed:
		var o payoutObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out.ExternalID = o.ID
		out.PayoutRequestID = o.Metadata["payout_request_id"]
		out.FailureCode = o.FailureCode
		out.FailureMessage = o.FailureMessage
		setAmount(out, o.Amount, o.Currency)
	}
	return nil
}

func setAmount(out *domain.PaymentEvent, minor int64, currency string) {
	out.Currency = strings.ToUpper(currency)
	out.Amount = FromMinor(minor, out.Currency)
}

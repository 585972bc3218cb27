package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"escrowledger/internal/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedReconciler struct {
	errs  []error
	calls int
}

func (r *scriptedReconciler) HandlePaymentEvent(ctx context.Context, ev *domain.PaymentEvent) error {
	r.calls++
	if r.calls <= len(r.errs) {
		return r.errs[r.calls-1]
	}
	return nil
}

func newTestConsumer(rec *scriptedReconciler) *Consumer {
	return &Consumer{reconciler: rec, logger: zap.NewNop(), backoff: time.Millisecond}
}

func message(t *testing.T, ev *domain.PaymentEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(partitionKey(ev)), Value: value}
}

func TestHandle_RetriesRetryableErrors(t *testing.T) {
	rec := &scriptedReconciler{errs: []error{domain.ErrRepository, domain.ErrOutOfOrder}}
	c := newTestConsumer(rec)

	settled := c.handle(context.Background(), message(t, &domain.PaymentEvent{ID: "evt_1", Type: domain.EventPayoutPaid}))

	assert.True(t, settled)
	assert.Equal(t, 3, rec.calls)
}

func TestHandle_CommitsRejectedEvents(t *testing.T) {
	rec := &scriptedReconciler{errs: []error{domain.ErrValidation}}
	c := newTestConsumer(rec)

	assert.True(t, c.handle(context.Background(), message(t, &domain.PaymentEvent{ID: "evt_1"})))
	assert.Equal(t, 1, rec.calls)
}

func TestHandle_DropsMalformedMessages(t *testing.T) {
	rec := &scriptedReconciler{}
	c := newTestConsumer(rec)

	assert.True(t, c.handle(context.Background(), kafka.Message{Value: []byte("{not json")}))
	assert.Zero(t, rec.calls)
}

func TestHandle_StopsWhenContextEnds(t *testing.T) {
	rec := &scriptedReconciler{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	c := newTestConsumer(rec)
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, c.handle(ctx, message(t, &domain.PaymentEvent{ID: "evt_1"})))
	assert.Equal(t, 1, rec.calls)
}

func TestPartitionKey(t *testing.T) {
	cases := []struct {
		name string
		ev   domain.PaymentEvent
		want string
	}{
		{"order first", domain.PaymentEvent{ID: "evt", OrderID: "o1", PaymentIntentID: "pi"}, "o1"},
		{"payment intent", domain.PaymentEvent{ID: "evt", PaymentIntentID: "pi"}, "pi"},
		{"payout request", domain.PaymentEvent{ID: "evt", PayoutRequestID: "p1", ExternalID: "tr"}, "p1"},
		{"external id", domain.PaymentEvent{ID: "evt", ExternalID: "tr"}, "tr"},
		{"event id fallback", domain.PaymentEvent{ID: "evt"}, "evt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, partitionKey(&tc.ev))
		})
	}
}

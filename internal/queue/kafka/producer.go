package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

var _ port.EventQueue = (*Producer)(nil)

// Enqueue keys messages by the order or payout they concern so events for one
// object stay on one partition and keep their relative order.
func (p *Producer) Enqueue(ctx context.Context, ev *domain.PaymentEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payment event %s: %w", ev.ID, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(partitionKey(ev)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}); err != nil {
		return fmt.Errorf("%w: enqueue event %s: %v", domain.ErrRepository, ev.ID, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func partitionKey(ev *domain.PaymentEvent) string {
	switch {
	case ev.OrderID != "":
		return ev.OrderID
	case ev.PaymentIntentID != "":
		return ev.PaymentIntentID
	case ev.PayoutRequestID != "":
		return ev.PayoutRequestID
	case ev.ExternalID != "":
		return ev.ExternalID
	default:
		return ev.ID
	}
}

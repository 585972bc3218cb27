package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type publisher struct {
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// Dial opens a connection and a channel and declares the topic exchange
// settlement events go to.
func Dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := connection.Channel()
	if err != nil {
		connection.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		connection.Close()
		return nil, nil, fmt.Errorf("rabbitmq exchange %s: %w", exchange, err)
	}
	return connection, ch, nil
}

func NewPublisher(ch *amqp.Channel, exchange string, logger *zap.Logger) port.EventPublisher {
	return &publisher{channel: ch, exchange: exchange, logger: logger}
}

func (p *publisher) Publish(ctx context.Context, routingKey string, ev *domain.SettlementEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("settlement event published", zap.String("routing_key", routingKey), zap.String("type", ev.Type))
	return nil
}

type noopPublisher struct{}

// NewNoopPublisher is used when no broker is configured.
func NewNoopPublisher() port.EventPublisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, string, *domain.SettlementEvent) error { return nil }

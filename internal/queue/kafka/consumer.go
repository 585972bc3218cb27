package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Consumer feeds queued payment events to the reconciler. An offset is only
// committed once the reconciler returns nil; retryable failures are retried
// in place with backoff so later events on the partition wait behind them.
type Consumer struct {
	reader     *kafka.Reader
	reconciler port.Reconciler
	logger     *zap.Logger
	backoff    time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, reconciler port.Reconciler, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
		reconciler: reconciler,
		logger:     logger,
		backoff:    time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.logger.Error("fetch payment event", zap.Error(err))
			if !c.sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.handle(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit payment event offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle returns false only when ctx ends before the event is settled.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	var ev domain.PaymentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Error("drop malformed payment event",
			zap.Int64("offset", msg.Offset), zap.ByteString("key", msg.Key), zap.Error(err))
		return true
	}

	wait := c.backoff
	for {
		err := c.reconciler.HandlePaymentEvent(ctx, &ev)
		if err == nil {
			return true
		}
		if !domain.Retryable(err) {
			c.logger.Warn("payment event rejected", zap.String("event_id", ev.ID), zap.Error(err))
			return true
		}

		c.logger.Warn("payment event failed, retrying",
			zap.String("event_id", ev.ID), zap.Duration("backoff", wait), zap.Error(err))
		if !c.sleep(ctx, wait) {
			return false
		}
		if wait < time.Minute {
			wait *= 2
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

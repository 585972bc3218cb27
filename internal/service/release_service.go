package service

import (
	"context"

	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"go.uber.org/zap"
)

type releaseService struct {
	orders   port.OrderRepository
	orderSvc port.OrderService
	settings Settings
	logger   *zap.Logger
}

func NewReleaseService(orders port.OrderRepository, orderSvc port.OrderService, settings Settings, logger *zap.Logger) port.ReleaseService {
	return &releaseService{
		orders:   orders,
		orderSvc: orderSvc,
		settings: settings,
		logger:   logger,
	}
}

// RunAutoRelease completes PAID orders whose holding period has elapsed.
// Each order is its own unit of work; a failure is collected and the batch
// moves on. Keys carry the batch time so a later batch can retry an order
// whose earlier attempt rolled back.
func (s *releaseService) RunAutoRelease(ctx context.Context) (*domain.ReleaseResult, error) {
	batchTime := s.settings.now()

	due, err := s.orders.ListReleasable(ctx, batchTime, s.settings.ReleaseBatchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.ReleaseResult{Total: len(due), Errors: []domain.ReleaseError{}}
	for _, o := range due {
		if ctx.Err() != nil {
			break
		}

		key := domain.GenerateIdempotencyKey(domain.EntryRelease, "auto", o.ID.String(), batchTime)
		if _, err := s.orderSvc.CompleteOrder(ctx, o.ID, domain.ActorSystem, key); err != nil {
			s.logger.Warn("auto-release failed", zap.Stringer("order_id", o.ID), zap.Error(err))
			metrics.AutoReleaseOrders.WithLabelValues("failed").Inc()
			result.Errors = append(result.Errors, domain.ReleaseError{
				OrderID: o.ID,
				Reason:  domain.ReasonOf(err),
				Error:   err.Error(),
			})
			continue
		}
		metrics.AutoReleaseOrders.WithLabelValues("released").Inc()
		result.Released++
	}

	s.logger.Info("auto-release batch finished",
		zap.Int("total", result.Total), zap.Int("released", result.Released), zap.Int("failed", len(result.Errors)))
	return result, nil
}

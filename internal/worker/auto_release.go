package worker

import (
	"context"
	"sync"
	"time"

	"escrowledger/internal/port"

	"go.uber.org/zap"
)

// AutoReleaser runs the release sweep on a fixed interval.
type AutoReleaser struct {
	releases port.ReleaseService
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewAutoReleaser(releases port.ReleaseService, interval time.Duration, logger *zap.Logger) *AutoReleaser {
	return &AutoReleaser{
		releases: releases,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every tick, until Stop or ctx ends.
func (a *AutoReleaser) Start(ctx context.Context) {
	a.logger.Info("starting auto-release worker", zap.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			a.sweep(ctx)
		case <-a.stopChan:
			a.logger.Info("stopping auto-release worker")
			return
		case <-ctx.Done():
			a.logger.Info("context cancelled, stopping auto-release worker")
			return
		}
	}
}

func (a *AutoReleaser) Stop() {
	a.stopOnce.Do(func() { close(a.stopChan) })
}

func (a *AutoReleaser) sweep(ctx context.Context) {
	result, err := a.releases.RunAutoRelease(ctx)
	if err != nil {
		a.logger.Error("auto-release sweep failed", zap.Error(err))
		return
	}
	if result.Total == 0 {
		return
	}
	a.logger.Info("auto-release sweep finished",
		zap.Int("total", result.Total),
		zap.Int("released", result.Released),
		zap.Int("failed", len(result.Errors)),
	)
}

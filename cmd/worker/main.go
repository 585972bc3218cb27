package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"escrowledger/internal/app"
	"escrowledger/internal/config"
	"escrowledger/internal/logger"
	"escrowledger/internal/queue/kafka"
	"escrowledger/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	lg, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatal("failed to build logger:", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialise settlement core", zap.Error(err))
	}
	defer core.Close()

	var wg sync.WaitGroup

	releaser := worker.NewAutoReleaser(core.Releases, cfg.Ledger.ReleaseInterval, lg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		releaser.Start(ctx)
	}()

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, core.Reconciler, lg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			if err := consumer.Run(ctx); err != nil {
				lg.Error("payment event consumer stopped", zap.Error(err))
				stop()
			}
		}()
	} else {
		lg.Warn("kafka not configured, only auto-release runs")
	}

	<-ctx.Done()
	lg.Info("shutting down worker")
	releaser.Stop()
	wg.Wait()
}

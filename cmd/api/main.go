package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"escrowledger/internal/app"
	"escrowledger/internal/config"
	handler "escrowledger/internal/handler/http"
	"escrowledger/internal/logger"
	"escrowledger/internal/port"
	"escrowledger/internal/queue/kafka"

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

	var queue port.EventQueue
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		queue = producer
	} else {
		lg.Info("kafka not configured, webhooks are reconciled inline")
	}

	h := handler.NewHandler(handler.Services{
		Wallets:    core.Wallets,
		Orders:     core.Orders,
		Disputes:   core.Disputes,
		Payouts:    core.Payouts,
		Releases:   core.Releases,
		Reconciler: core.Reconciler,
		Processor:  core.Processor,
		Queue:      queue,
		Authorizer: handler.NewAdminAuthorizer(cfg.Admin.UserIDs),
	}, cfg.Token.AuthToken, lg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
}

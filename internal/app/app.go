package app

import (
	"context"
	"database/sql"
	"fmt"

	"escrowledger/internal/config"
	"escrowledger/internal/port"
	"escrowledger/internal/provider/stripe"
	"escrowledger/internal/publisher/rabbitmq"
	"escrowledger/internal/repository/migration"
	"escrowledger/internal/repository/postgresql"
	redisrepo "escrowledger/internal/repository/redis"
	"escrowledger/internal/service"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App is the assembled settlement core shared by the api and worker binaries.
type App struct {
	Settings   service.Settings
	Processor  port.PaymentProcessor
	Wallets    port.WalletService
	Ledger     port.LedgerService
	Orders     port.OrderService
	Disputes   port.DisputeService
	Payouts    port.PayoutService
	Releases   port.ReleaseService
	Reconciler port.Reconciler

	db      *sql.DB
	redis   *redis.Client
	amqp    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

// New connects every backing store named in cfg. Redis and RabbitMQ are
// optional; without them events are not cached or not announced.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	db, err := postgresql.Open(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.DB.RunMigrations {
		if err := migration.RunMigrations(ctx, db, logger); err != nil {
			a.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var cache port.EventCache
	if cfg.Redis.Addr != "" {
		client, err := redisrepo.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		cache = redisrepo.NewEventCache(client, logger)
	} else {
		logger.Warn("redis not configured, event dedupe uses the database only")
	}

	publisher := rabbitmq.NewNoopPublisher()
	if cfg.RabbitMQ.URL != "" {
		conn, ch, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.amqp, a.channel = conn, ch
		publisher = rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange, logger)
	} else {
		logger.Warn("rabbitmq not configured, settlement events are not published")
	}

	a.Settings = service.SettingsFromConfig(cfg)
	a.Processor = stripe.NewProcessor(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Ledger.ProcessorTimeout, logger)

	tx := postgresql.NewTxManager(db)
	orderRepo := postgresql.NewOrderRepository(db)
	payoutRepo := postgresql.NewPayoutRepository(db)
	accountRepo := postgresql.NewAccountRepository(db)
	ledgerRepo := postgresql.NewLedgerRepository(db)
	destinations := postgresql.NewPayoutDestinationRepository(db)
	reopener := postgresql.NewRequestReopener(db)

	a.Wallets = service.NewWalletService(tx, postgresql.NewWalletRepository(db), accountRepo, ledgerRepo,
		payoutRepo, destinations, a.Processor, a.Settings, logger)
	a.Ledger = service.NewLedgerService(tx, accountRepo, ledgerRepo, a.Settings, logger)
	a.Orders = service.NewOrderService(tx, orderRepo, a.Wallets, a.Ledger, a.Processor, reopener,
		publisher, a.Settings, logger)
	a.Disputes = service.NewDisputeService(tx, orderRepo, a.Wallets, a.Ledger, a.Processor, reopener,
		publisher, a.Settings, logger)
	a.Payouts = service.NewPayoutService(tx, payoutRepo, destinations, accountRepo, a.Wallets, a.Ledger,
		a.Processor, publisher, a.Settings, logger)
	a.Releases = service.NewReleaseService(orderRepo, a.Orders, a.Settings, logger)
	a.Reconciler = service.NewReconciler(orderRepo, payoutRepo, ledgerRepo,
		postgresql.NewProcessedEventRepository(db), cache, a.Orders, a.Disputes, a.Payouts, a.Settings, logger)

	return a, nil
}

func (a *App) Close() {
	if a.channel != nil {
		_ = a.channel.Close()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("close rabbitmq", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Token    TokenConfig    `mapstructure:"token"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DBConfig struct {
	DatabaseURL        string        `mapstructure:"databaseURL"`
	MaxOpenConnection  int           `mapstructure:"maxOpenConnection"`
	MaxIdleConnection  int           `mapstructure:"maxIdleConnection"`
	ConnectionLifetime time.Duration `mapstructure:"connectionLifetime"`
	RunMigrations      bool          `mapstructure:"runMigrations"`
}

type TokenConfig struct {
	AuthToken string `mapstructure:"authToken"`
}

type LoggerConfig struct {
	LoggerLevel string `mapstructure:"loggerLevel"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	EventTTL time.Duration `mapstructure:"eventTTL"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"groupID"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secretKey"`
	WebhookSecret string `mapstructure:"webhookSecret"`
}

type LedgerConfig struct {
	Currency                string        `mapstructure:"currency"`
	PlatformFeeRate         string        `mapstructure:"platformFeeRate"`
	TravellerServiceFeeRate string        `mapstructure:"travellerServiceFeeRate"`
	HoldingPeriod           time.Duration `mapstructure:"holdingPeriod"`
	ReleaseBatchSize        int           `mapstructure:"releaseBatchSize"`
	ReleaseInterval         time.Duration `mapstructure:"releaseInterval"`
	ProcessorTimeout        time.Duration `mapstructure:"processorTimeout"`
}

type AdminConfig struct {
	UserIDs []string `mapstructure:"userIDs"`
}

func (l LedgerConfig) PlatformRate() decimal.Decimal {
	return decimal.RequireFromString(l.PlatformFeeRate)
}

func (l LedgerConfig) TravellerRate() decimal.Decimal {
	return decimal.RequireFromString(l.TravellerServiceFeeRate)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("db.databaseURL", "")
	v.SetDefault("db.maxOpenConnection", 15)
	v.SetDefault("db.maxIdleConnection", 10)
	v.SetDefault("db.connectionLifetime", time.Hour)
	v.SetDefault("db.runMigrations", true)

	v.SetDefault("token.authToken", "")
	v.SetDefault("logger.loggerLevel", "info")
	v.SetDefault("logger.development", false)

	// Empty means no cache.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.eventTTL", 72*time.Hour)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "settlement_events")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "payment-events")
	v.SetDefault("kafka.groupID", "settlement-reconciler")

	v.SetDefault("stripe.secretKey", "")
	v.SetDefault("stripe.webhookSecret", "")

	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.platformFeeRate", "0.05")
	v.SetDefault("ledger.travellerServiceFeeRate", "0.15")
	v.SetDefault("ledger.holdingPeriod", 14*24*time.Hour)
	v.SetDefault("ledger.releaseBatchSize", 100)
	v.SetDefault("ledger.releaseInterval", 10*time.Minute)
	v.SetDefault("ledger.processorTimeout", 20*time.Second)

	v.SetDefault("admin.userIDs", []string{})
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("config file not found, using defaults and environment")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("using config file: %s", v.ConfigFileUsed())
	}

	var config Config

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if _, err := decimal.NewFromString(c.Ledger.PlatformFeeRate); err != nil {
		return fmt.Errorf("ledger.platformFeeRate: %w", err)
	}
	if _, err := decimal.NewFromString(c.Ledger.TravellerServiceFeeRate); err != nil {
		return fmt.Errorf("ledger.travellerServiceFeeRate: %w", err)
	}
	if len(c.Ledger.Currency) != 3 {
		return fmt.Errorf("ledger.currency must be an ISO 4217 code, got %q", c.Ledger.Currency)
	}
	if c.Ledger.ReleaseBatchSize <= 0 {
		return fmt.Errorf("ledger.releaseBatchSize must be positive")
	}
	if c.DB.DatabaseURL == "" {
		return fmt.Errorf("db.databaseURL is required")
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"server.readTimeout", c.Server.ReadTimeout},
		{"server.writeTimeout", c.Server.WriteTimeout},
		{"server.shutdownTimeout", c.Server.ShutdownTimeout},
		{"redis.eventTTL", c.Redis.EventTTL},
		{"ledger.holdingPeriod", c.Ledger.HoldingPeriod},
		{"ledger.releaseInterval", c.Ledger.ReleaseInterval},
		{"ledger.processorTimeout", c.Ledger.ProcessorTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.d)
		}
	}
	return nil
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, 14*24*time.Hour, cfg.Ledger.HoldingPeriod)
	assert.Equal(t, 72*time.Hour, cfg.Redis.EventTTL)
	assert.Equal(t, "settlement_events", cfg.RabbitMQ.Exchange)
	assert.Equal(t, "0.05", cfg.Ledger.PlatformRate().String())
	assert.Equal(t, "0.15", cfg.Ledger.TravellerRate().String())
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LEDGER_CURRENCY", "EUR")
	t.Setenv("LEDGER_RELEASEBATCHSIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "EUR", cfg.Ledger.Currency)
	assert.Equal(t, 25, cfg.Ledger.ReleaseBatchSize)
}

func TestLoad_EnvironmentWithoutConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DATABASEURL", "postgres://ledger@db:5432/escrowledger")
	t.Setenv("STRIPE_SECRETKEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOKSECRET", "whsec_123")
	t.Setenv("RABBITMQ_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ADMIN_USERIDS", "admin-1,admin-2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://ledger@db:5432/escrowledger", cfg.DB.DatabaseURL)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "whsec_123", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.RabbitMQ.URL)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"admin-1", "admin-2"}, cfg.Admin.UserIDs)
	assert.Equal(t, 10*time.Minute, cfg.Ledger.ReleaseInterval)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load()
	assert.ErrorContains(t, err, "db.databaseURL")
}

func TestLoad_RejectsBadLedgerSettings(t *testing.T) {
	cases := map[string][2]string{
		"fee rate":          {"LEDGER_PLATFORMFEERATE", "five percent"},
		"currency":          {"LEDGER_CURRENCY", "DOLLAR"},
		"batch size":        {"LEDGER_RELEASEBATCHSIZE", "0"},
		"release interval":  {"LEDGER_RELEASEINTERVAL", "0s"},
		"holding period":    {"LEDGER_HOLDINGPERIOD", "0s"},
		"processor timeout": {"LEDGER_PROCESSORTIMEOUT", "-1s"},
		"event ttl":         {"REDIS_EVENTTTL", "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it changes the working directory
// for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}

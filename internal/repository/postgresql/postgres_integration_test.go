//go:build integration

package postgresql_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"escrowledger/internal/config"
	"escrowledger/internal/domain"
	"escrowledger/internal/port"
	"escrowledger/internal/repository/migration"
	"escrowledger/internal/repository/postgresql"
	"escrowledger/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/postgresql/

type pgFixture struct {
	tx       port.TxManager
	accounts port.AccountRepository
	entries  port.LedgerRepository
	wallets  port.WalletService
	ledger   port.LedgerService
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := postgresql.Open(ctx, config.DBConfig{
		DatabaseURL:        url,
		MaxOpenConnection:  20,
		MaxIdleConnection:  5,
		ConnectionLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.RunMigrations(ctx, db, logger))

	settings := service.Settings{Currency: "USD", HoldingPeriod: time.Hour, ReleaseBatchSize: 10, EventTTL: time.Hour}
	f := &pgFixture{
		tx:       postgresql.NewTxManager(db),
		accounts: postgresql.NewAccountRepository(db),
		entries:  postgresql.NewLedgerRepository(db),
	}
	f.wallets = service.NewWalletService(f.tx, postgresql.NewWalletRepository(db), f.accounts, f.entries,
		postgresql.NewPayoutRepository(db), postgresql.NewPayoutDestinationRepository(db), nil, settings, logger)
	f.ledger = service.NewLedgerService(f.tx, f.accounts, f.entries, settings, logger)
	return f
}

func (f *pgFixture) pending(t *testing.T) *domain.Account {
	t.Helper()
	w, err := f.wallets.GetOrCreateWallet(context.Background(), "it-"+uuid.NewString())
	require.NoError(t, err)
	a, ok := w.Account(domain.AccountPending)
	require.True(t, ok)
	return a
}

func (f *pgFixture) move(from, to *domain.Account, amount, key string) (*domain.LedgerEntry, error) {
	return f.ledger.PostLedgerEntry(context.Background(), &domain.PostingReq{
		Type: domain.EntryEscrowHold, Amount: decimal.RequireFromString(amount), Currency: "USD",
		DebitAccountID: from.ID, CreditAccountID: to.ID,
		ReferenceType: domain.ReferenceOrder, ReferenceID: key,
		IdempotencyKey: key, CreatedBy: domain.ActorSystem,
	})
}

func (f *pgFixture) balance(t *testing.T, a *domain.Account) decimal.Decimal {
	t.Helper()
	got, err := f.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	return got.Balance
}

func TestPostgres_OpposingTransfersNeitherDeadlockNorLeak(t *testing.T) {
	f := newPGFixture(t)
	escrow, err := f.wallets.GetOrCreatePlatformAccount(context.Background(), domain.PlatformEscrow)
	require.NoError(t, err)
	a, b := f.pending(t), f.pending(t)
	_, err = f.move(escrow, a, "100", "it-fund-"+uuid.NewString())
	require.NoError(t, err)
	_, err = f.move(escrow, b, "100", "it-fund-"+uuid.NewString())
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.move(a, b, "1", fmt.Sprintf("it-ab-%s-%d", a.ID, i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.move(b, a, "1", fmt.Sprintf("it-ba-%s-%d", b.ID, i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.True(t, decimal.NewFromInt(100).Equal(f.balance(t, a)), "a=%s", f.balance(t, a))
	assert.True(t, decimal.NewFromInt(100).Equal(f.balance(t, b)), "b=%s", f.balance(t, b))
}

func TestPostgres_SameKeyAppliesOnce(t *testing.T) {
	f := newPGFixture(t)
	escrow, err := f.wallets.GetOrCreatePlatformAccount(context.Background(), domain.PlatformEscrow)
	require.NoError(t, err)
	a := f.pending(t)
	key := "it-once-" + uuid.NewString()

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := f.move(escrow, a, "7.50", key)
			if assert.NoError(t, err) {
				ids <- e.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		assert.Equal(t, first, id)
	}
	assert.True(t, decimal.RequireFromString("7.5").Equal(f.balance(t, a)))
}

func TestPostgres_OverdraftMapsToInsufficientFunds(t *testing.T) {
	f := newPGFixture(t)
	a, b := f.pending(t), f.pending(t)

	_, err := f.move(a, b, "1", "it-overdraft-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = f.tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return f.accounts.AddBalance(ctx, a.ID, decimal.NewFromInt(-1))
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, f.balance(t, a).IsZero())
}

func TestPostgres_DuplicateKeyIsAlreadyApplied(t *testing.T) {
	f := newPGFixture(t)
	a := f.pending(t)
	entry := func() *domain.LedgerEntry {
		return &domain.LedgerEntry{
			ID: uuid.New(), Type: domain.EntryFreeze, Status: domain.EntryPosted,
			Amount: decimal.NewFromInt(1), Currency: "USD",
			DebitAccountID: a.ID, CreditAccountID: a.ID,
			ReferenceType: domain.ReferenceOrder, ReferenceID: "it-dup",
			IdempotencyKey: "it-dup-" + a.ID.String(), CreatedBy: domain.ActorSystem, CreatedAt: time.Now().UTC(),
		}
	}
	ctx := context.Background()

	require.NoError(t, f.entries.Create(ctx, entry()))
	assert.ErrorIs(t, f.entries.Create(ctx, entry()), domain.ErrAlreadyApplied)
}

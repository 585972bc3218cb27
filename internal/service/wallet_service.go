package service

import (
	"context"
	"fmt"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const recentEntriesLimit = 50

type walletService struct {
	tx           port.TxManager
	wallets      port.WalletRepository
	accounts     port.AccountRepository
	entries      port.LedgerRepository
	payouts      port.PayoutRepository
	destinations port.PayoutDestinationRepository
	processor    port.PaymentProcessor
	currency     string
	logger       *zap.Logger
}

func NewWalletService(
	tx port.TxManager,
	wallets port.WalletRepository,
	accounts port.AccountRepository,
	entries port.LedgerRepository,
	payouts port.PayoutRepository,
	destinations port.PayoutDestinationRepository,
	processor port.PaymentProcessor,
	settings Settings,
	logger *zap.Logger,
) port.WalletService {
	return &walletService{
		tx:           tx,
		wallets:      wallets,
		accounts:     accounts,
		entries:      entries,
		payouts:      payouts,
		destinations: destinations,
		processor:    processor,
		currency:     settings.Currency,
		logger:       logger,
	}
}

func (s *walletService) GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	var wallet *domain.Wallet
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		wallet, err = s.wallets.Ensure(txCtx, userID, s.currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !wallet.Complete() {
		return nil, fmt.Errorf("%w: wallet %s has %d accounts", domain.ErrRepository, wallet.ID, len(wallet.Accounts))
	}
	return wallet, nil
}

func (s *walletService) GetOrCreatePlatformAccount(ctx context.Context, name domain.PlatformAccountName) (*domain.Account, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: unknown platform account %q", domain.ErrValidation, name)
	}
	return s.accounts.EnsurePlatform(ctx, name, s.currency)
}

func (s *walletService) GetWalletDetails(ctx context.Context, userID string) (*domain.WalletDetails, error) {
	wallet, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	outstanding, err := s.payouts.SumOutstanding(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(wallet.Accounts))
	for _, a := range wallet.Accounts {
		ids = append(ids, a.ID)
	}
	recent, err := s.entries.ListByAccounts(ctx, ids, recentEntriesLimit)
	if err != nil {
		return nil, err
	}

	available := wallet.Balance(domain.AccountAvailable)
	details := &domain.WalletDetails{
		Wallet:            wallet,
		Pending:           wallet.Balance(domain.AccountPending),
		Available:         available,
		Frozen:            wallet.Balance(domain.AccountFrozen),
		OutstandingPayout: outstanding,
		Withdrawable:      decimal.Max(decimal.Zero, available.Sub(outstanding)),
		RecentEntries:     recent,
	}

	s.attachExternalBalance(ctx, details)
	return details, nil
}

// attachExternalBalance adds what the processor holds for the user's
// connected account. It is informational, so failures are only logged.
func (s *walletService) attachExternalBalance(ctx context.Context, details *domain.WalletDetails) {
	userID := details.Wallet.UserID

	dest, err := s.destinations.GetByUserID(ctx, userID)
	if err != nil {
		s.logger.Warn("payout destination lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if dest == nil || !dest.Verified {
		return
	}

	balance, err := s.processor.RetrieveAccountBalance(ctx, dest.ExternalAccountID)
	if err != nil {
		s.logger.Warn("connected account balance unavailable",
			zap.String("user_id", userID), zap.String("account", dest.ExternalAccountID), zap.Error(err))
		return
	}
	details.ExternalBalance = balance
}

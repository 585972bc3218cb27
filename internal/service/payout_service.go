package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type payoutService struct {
	tx           port.TxManager
	payouts      port.PayoutRepository
	destinations port.PayoutDestinationRepository
	accounts     port.AccountRepository
	wallets      port.WalletService
	ledger       port.LedgerService
	processor    port.PaymentProcessor
	publisher    port.EventPublisher
	settings     Settings
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewPayoutService(
	tx port.TxManager,
	payouts port.PayoutRepository,
	destinations port.PayoutDestinationRepository,
	accounts port.AccountRepository,
	wallets port.WalletService,
	ledger port.LedgerService,
	processor port.PaymentProcessor,
	publisher port.EventPublisher,
	settings Settings,
	logger *zap.Logger,
) port.PayoutService {
	return &payoutService{
		tx:           tx,
		payouts:      payouts,
		destinations: destinations,
		accounts:     accounts,
		wallets:      wallets,
		ledger:       ledger,
		processor:    processor,
		publisher:    publisher,
		settings:     settings,
		validate:     validator.New(),
		logger:       logger,
	}
}

func (s *payoutService) RequestPayout(ctx context.Context, req *domain.PayoutReq) (*domain.PayoutRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}
	if err := checkAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	existing, err := s.sameRequest(ctx, req)
	if err != nil || existing != nil {
		return existing, err
	}

	dest, err := s.verifiedDestination(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	var payout *domain.PayoutRequest
	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		w, err := s.wallets.GetOrCreateWallet(txCtx, req.UserID)
		if err != nil {
			return err
		}
		// Locking AVAILABLE serialises concurrent requests against one wallet.
		if err := s.checkWithdrawable(txCtx, w, req.Amount, false); err != nil {
			return err
		}

		now := s.settings.now()
		payout = &domain.PayoutRequest{
			ID:             uuid.New(),
			WalletID:       w.ID,
			UserID:         req.UserID,
			Amount:         req.Amount,
			Currency:       w.Currency,
			Status:         domain.PayoutPending,
			IdempotencyKey: req.IdempotencyKey,
			DestinationID:  dest.ExternalAccountID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return s.payouts.Create(txCtx, payout)
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		return s.sameRequest(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("payout requested",
		zap.Stringer("payout_id", payout.ID), zap.String("user_id", payout.UserID), zap.String("amount", payout.Amount.String()))
	s.announce(ctx, payout)
	return payout, nil
}

// sameRequest returns the payout already stored under the request's key, or
// ErrIdempotencyKeyMismatch when the key was used for a different payout.
func (s *payoutService) sameRequest(ctx context.Context, req *domain.PayoutReq) (*domain.PayoutRequest, error) {
	existing, err := s.payouts.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.UserID != req.UserID || !existing.Amount.Equal(req.Amount) {
		return nil, domain.ErrIdempotencyKeyMismatch
	}
	return existing, nil
}

func (s *payoutService) verifiedDestination(ctx context.Context, userID string) (*domain.PayoutDestination, error) {
	dest, err := s.destinations.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if dest == nil || !dest.Verified {
		return nil, fmt.Errorf("%w: user %s", domain.ErrPayoutDestinationAbsent, userID)
	}
	return dest, nil
}

// checkWithdrawable locks the wallet's AVAILABLE account and verifies amount
// fits beside the payouts already outstanding. included says whether amount
// is itself one of those outstanding payouts.
func (s *payoutService) checkWithdrawable(ctx context.Context, w *domain.Wallet, amount decimal.Decimal, included bool) error {
	available, ok := w.Account(domain.AccountAvailable)
	if !ok {
		return fmt.Errorf("%w: AVAILABLE account of %s", domain.ErrAccountNotFound, w.UserID)
	}
	locked, err := s.accounts.LockByIDs(ctx, available.ID)
	if err != nil {
		return err
	}
	outstanding, err := s.payouts.SumOutstanding(ctx, w.ID)
	if err != nil {
		return err
	}
	need := outstanding.Add(amount)
	if included {
		need = outstanding
	}
	if balance := locked[available.ID].Balance; balance.LessThan(need) {
		return fmt.Errorf("%w: available %s, outstanding %s, requested %s",
			domain.ErrInsufficientFunds, balance, outstanding, amount)
	}
	return nil
}

// ProcessPayout sends the transfer first and only then marks the request
// PROCESSING. The processor key is the payout id, so a retry after a failed
// local update reuses the same transfer.
func (s *payoutService) ProcessPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := s.payouts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PayoutPending {
		return nil, fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidStateTransition, p.ID, p.Status)
	}

	dest, err := s.verifiedDestination(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		w, err := s.wallets.GetOrCreateWallet(txCtx, p.UserID)
		if err != nil {
			return err
		}
		return s.checkWithdrawable(txCtx, w, p.Amount, true)
	})
	if err != nil {
		return nil, err
	}

	transfer, err := s.processor.CreateTransfer(ctx, &domain.TransferReq{
		DestinationAccountID: dest.ExternalAccountID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		IdempotencyKey:       "payout:" + p.ID.String(),
		Metadata:             map[string]string{"payout_request_id": p.ID.String(), "user_id": p.UserID},
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		locked, err := s.payouts.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if locked.Status != domain.PayoutPending {
			if locked.ExternalPayoutID == transfer.ID {
				p = locked
				return nil
			}
			return fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidStateTransition, locked.ID, locked.Status)
		}
		locked.Status = domain.PayoutProcessing
		locked.ExternalPayoutID = transfer.ID
		locked.DestinationID = dest.ExternalAccountID
		locked.UpdatedAt = s.settings.now()
		p = locked
		return s.payouts.Update(txCtx, locked)
	})
	if err != nil {
		s.logger.Error("CRITICAL: transfer created but payout not marked processing",
			zap.Stringer("payout_id", id), zap.String("transfer_id", transfer.ID), zap.Error(err))
		return nil, err
	}

	s.announce(ctx, p)
	return p, nil
}

// MarkPayoutPaid debits AVAILABLE once the processor confirms the money left.
func (s *payoutService) MarkPayoutPaid(ctx context.Context, externalID, providerEventID string) (*domain.PayoutRequest, error) {
	var p *domain.PayoutRequest
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		if p, err = s.lockByExternalID(txCtx, externalID); err != nil {
			return err
		}
		if p.Status == domain.PayoutCompleted {
			return fmt.Errorf("%w: payout %s already completed", domain.ErrAlreadyApplied, p.ID)
		}
		if p.Status != domain.PayoutProcessing {
			return fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidStateTransition, p.ID, p.Status)
		}

		available, escrow, err := s.withdrawalAccounts(txCtx, p)
		if err != nil {
			return err
		}

		req := &domain.PostingReq{
			Type:            domain.EntryWithdrawal,
			Amount:          p.Amount,
			Currency:        p.Currency,
			DebitAccountID:  available.ID,
			CreditAccountID: escrow.ID,
			ReferenceType:   domain.ReferencePayout,
			ReferenceID:     p.ID.String(),
			IdempotencyKey:  domain.GenerateIdempotencyKey(domain.EntryWithdrawal, "payout", p.ID.String()),
			Description:     "payout paid to " + p.DestinationID,
			Metadata:        map[string]string{"external_payout_id": p.ExternalPayoutID},
			CreatedBy:       domain.ActorWebhook,
		}
		if providerEventID != "" {
			req.ProviderEventID = &providerEventID
		}
		if _, err := s.ledger.PostLedgerEntry(txCtx, req); err != nil {
			return err
		}

		now := s.settings.now()
		p.Status = domain.PayoutCompleted
		p.CompletedAt = &now
		p.UpdatedAt = now
		return s.payouts.Update(txCtx, p)
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, p)
	return p, nil
}

// MarkPayoutFailed leaves every balance as it was so the user can request
// again. A payout already COMPLETED had its withdrawal booked; the processor
// reversing it puts the amount back into AVAILABLE.
func (s *payoutService) MarkPayoutFailed(ctx context.Context, externalID, code, reason string) (*domain.PayoutRequest, error) {
	var (
		p        *domain.PayoutRequest
		reversed bool
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		if p, err = s.lockByExternalID(txCtx, externalID); err != nil {
			return err
		}
		switch p.Status {
		case domain.PayoutProcessing, domain.PayoutPending:
		case domain.PayoutCompleted:
			if err := s.reverseWithdrawal(txCtx, p, code); err != nil {
				return err
			}
			reversed = true
		default:
			return fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidStateTransition, p.ID, p.Status)
		}
		p.Status = domain.PayoutFailed
		p.FailureCode = code
		p.FailureReason = reason
		p.UpdatedAt = s.settings.now()
		return s.payouts.Update(txCtx, p)
	})
	if err != nil {
		return nil, err
	}

	if reversed {
		s.logger.Error("paid-out payout reversed by processor, withdrawal returned to available",
			zap.Stringer("payout_id", p.ID), zap.String("user_id", p.UserID),
			zap.String("amount", p.Amount.String()), zap.String("failure_code", code))
	} else {
		s.logger.Warn("payout failed",
			zap.Stringer("payout_id", p.ID), zap.String("failure_code", code), zap.String("failure_reason", reason))
	}
	s.announce(ctx, p)
	return p, nil
}

func (s *payoutService) reverseWithdrawal(ctx context.Context, p *domain.PayoutRequest, code string) error {
	available, escrow, err := s.withdrawalAccounts(ctx, p)
	if err != nil {
		return err
	}
	_, err = s.ledger.PostLedgerEntry(ctx, &domain.PostingReq{
		Type:            domain.EntryWithdrawalReversal,
		Amount:          p.Amount,
		Currency:        p.Currency,
		DebitAccountID:  escrow.ID,
		CreditAccountID: available.ID,
		ReferenceType:   domain.ReferencePayout,
		ReferenceID:     p.ID.String(),
		IdempotencyKey:  domain.GenerateIdempotencyKey(domain.EntryWithdrawalReversal, "payout", p.ID.String()),
		Description:     "payout reversed by processor",
		Metadata:        map[string]string{"external_payout_id": p.ExternalPayoutID, "failure_code": code},
		CreatedBy:       domain.ActorWebhook,
	})
	return err
}

// withdrawalAccounts returns the user's AVAILABLE account and the escrow
// account a payout moves between.
func (s *payoutService) withdrawalAccounts(ctx context.Context, p *domain.PayoutRequest) (*domain.Account, *domain.Account, error) {
	w, err := s.wallets.GetOrCreateWallet(ctx, p.UserID)
	if err != nil {
		return nil, nil, err
	}
	available, _ := w.Account(domain.AccountAvailable)
	escrow, err := s.wallets.GetOrCreatePlatformAccount(ctx, domain.PlatformEscrow)
	if err != nil {
		return nil, nil, err
	}
	return available, escrow, nil
}

func (s *payoutService) lockByExternalID(ctx context.Context, externalID string) (*domain.PayoutRequest, error) {
	p, err := s.payouts.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: external id %s", domain.ErrPayoutNotFound, externalID)
	}
	return p, nil
}

func (s *payoutService) GetPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	return s.payouts.GetByID(ctx, id)
}

func (s *payoutService) announce(ctx context.Context, p *domain.PayoutRequest) {
	metrics.PayoutRequests.WithLabelValues(string(p.Status)).Inc()
	ev := &domain.SettlementEvent{
		Type:       "payout.status_changed",
		PayoutID:   p.ID.String(),
		UserID:     p.UserID,
		Status:     string(p.Status),
		Amount:     p.Amount,
		Currency:   p.Currency,
		OccurredAt: p.UpdatedAt,
	}
	if p.FailureCode != "" {
		ev.Metadata = map[string]string{"failure_code": p.FailureCode}
	}
	if err := s.publisher.Publish(ctx, "payout."+strings.ToLower(string(p.Status)), ev); err != nil {
		s.logger.Warn("publish payout event", zap.Stringer("payout_id", p.ID), zap.Error(err))
	}
}

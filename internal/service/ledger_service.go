package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/metrics"
	"escrowledger/internal/port"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ledgerService struct {
	tx       port.TxManager
	accounts port.AccountRepository
	entries  port.LedgerRepository
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedgerService(
	tx port.TxManager,
	accounts port.AccountRepository,
	entries port.LedgerRepository,
	settings Settings,
	logger *zap.Logger,
) port.LedgerService {
	return &ledgerService{
		tx:       tx,
		accounts: accounts,
		entries:  entries,
		validate: validator.New(),
		logger:   logger,
		now:      settings.now,
	}
}

func (s *ledgerService) PostLedgerEntry(ctx context.Context, req *domain.PostingReq) (*domain.LedgerEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationErr(err)
	}
	if err := checkAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	// Checked without a transaction first: replays are the common case under
	// at-least-once delivery and need no locks.
	prior, err := s.findPrior(ctx, req)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.logger.Debug("ledger entry already applied",
			zap.String("idempotency_key", req.IdempotencyKey), zap.Stringer("entry_id", prior.ID))
		metrics.ObservePosting(req.Type, domain.ErrAlreadyApplied)
		return prior, nil
	}

	owned := !s.tx.InTx(ctx)

	var entry *domain.LedgerEntry
	err = s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		entry, err = s.apply(txCtx, req)
		return err
	})

	if errors.Is(err, domain.ErrAlreadyApplied) && owned {
		// Lost a race with an identical posting; the winner's row is committed.
		prior, findErr := s.findPrior(ctx, req)
		if findErr != nil {
			return nil, findErr
		}
		if prior != nil {
			metrics.ObservePosting(req.Type, domain.ErrAlreadyApplied)
			return prior, nil
		}
	}
	metrics.ObservePosting(req.Type, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ledger entry posted",
		zap.Stringer("entry_id", entry.ID),
		zap.String("type", string(entry.Type)),
		zap.String("amount", entry.Amount.String()),
		zap.String("reference_id", entry.ReferenceID),
	)
	return entry, nil
}

// apply runs inside the transaction: lock, check, move, record.
func (s *ledgerService) apply(ctx context.Context, req *domain.PostingReq) (*domain.LedgerEntry, error) {
	locked, err := s.accounts.LockByIDs(ctx, req.DebitAccountID, req.CreditAccountID)
	if err != nil {
		return nil, err
	}
	debit, credit := locked[req.DebitAccountID], locked[req.CreditAccountID]

	for _, a := range []*domain.Account{debit, credit} {
		if a.Currency != req.Currency {
			return nil, fmt.Errorf("%w: account %s holds %s, posting is %s", domain.ErrValidation, a.ID, a.Currency, req.Currency)
		}
	}

	if debit.ID != credit.ID {
		if !debit.CanDebit(req.Amount) {
			return nil, fmt.Errorf("%w: account %s has %s, needs %s",
				domain.ErrInsufficientFunds, debit.ID, debit.Balance, req.Amount)
		}
		if err := s.accounts.AddBalance(ctx, debit.ID, req.Amount.Neg()); err != nil {
			return nil, err
		}
		if err := s.accounts.AddBalance(ctx, credit.ID, req.Amount); err != nil {
			return nil, err
		}
	}

	entry := &domain.LedgerEntry{
		ID:              uuid.New(),
		Type:            req.Type,
		Status:          domain.EntryPosted,
		Amount:          req.Amount,
		Currency:        req.Currency,
		DebitAccountID:  req.DebitAccountID,
		CreditAccountID: req.CreditAccountID,
		ReferenceType:   req.ReferenceType,
		ReferenceID:     req.ReferenceID,
		IdempotencyKey:  req.IdempotencyKey,
		ProviderEventID: req.ProviderEventID,
		Description:     req.Description,
		Metadata:        req.Metadata,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       s.now(),
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// findPrior returns the entry already booked under req's key or provider
// event, failing with ErrIdempotencyKeyMismatch when that entry is a
// different movement.
func (s *ledgerService) findPrior(ctx context.Context, req *domain.PostingReq) (*domain.LedgerEntry, error) {
	prior, err := s.entries.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior == nil && req.ProviderEventID != nil {
		prior, err = s.entries.GetByProviderEventID(ctx, *req.ProviderEventID)
		if err != nil {
			return nil, err
		}
	}
	if prior == nil {
		return nil, nil
	}
	if !prior.Matches(req) {
		s.logger.Warn("idempotency key reused for a different posting",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Stringer("entry_id", prior.ID),
			zap.String("entry_type", string(prior.Type)),
			zap.String("requested_type", string(req.Type)),
			zap.String("reference_id", req.ReferenceID),
		)
		return nil, fmt.Errorf("%w: key %q already booked entry %s", domain.ErrIdempotencyKeyMismatch, req.IdempotencyKey, prior.ID)
	}
	return prior, nil
}

func (s *ledgerService) ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.LedgerEntry, error) {
	return s.entries.ListByReference(ctx, refType, refID)
}

package domain

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAlreadyApplied         = errors.New("already applied")
	ErrExternalProcessor      = errors.New("payment processor error")
	ErrRepository             = errors.New("repository error")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrIdempotencyKeyMismatch = errors.New("idempotency key mismatch")
	// ErrOutOfOrder marks an event that arrived before the object it settles
	// reached the state it expects; redelivery resolves it.
	ErrOutOfOrder = errors.New("event arrived out of order")

	ErrNotFound                = errors.New("not found")
	ErrWalletNotFound          = wrapNotFound("wallet")
	ErrAccountNotFound         = wrapNotFound("account")
	ErrOrderNotFound           = wrapNotFound("order")
	ErrPayoutNotFound          = wrapNotFound("payout request")
	ErrLedgerEntryNotFound     = wrapNotFound("ledger entry")
	ErrPayoutDestinationAbsent = errors.New("no verified payout destination")
)

type notFoundError struct{ entity string }

func (e *notFoundError) Error() string { return e.entity + " not found" }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

func wrapNotFound(entity string) error { return &notFoundError{entity: entity} }

// Reason tells a caller whether retrying can help.
type Reason string

const (
	ReasonRetry             Reason = "retry"
	ReasonNotPermitted      Reason = "not_permitted"
	ReasonInvalidInput      Reason = "invalid_input"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonNotFound          Reason = "not_found"
	ReasonAlreadyApplied    Reason = "already_applied"
	ReasonUnauthorized      Reason = "unauthorized"
	ReasonInternal          Reason = "internal"
)

func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyApplied):
		return ReasonAlreadyApplied
	case errors.Is(err, ErrExternalProcessor), errors.Is(err, ErrRepository), errors.Is(err, ErrOutOfOrder):
		return ReasonRetry
	case errors.Is(err, ErrInvalidStateTransition):
		return ReasonNotPermitted
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrValidation), errors.Is(err, ErrIdempotencyKeyMismatch),
		errors.Is(err, ErrPayoutDestinationAbsent):
		return ReasonInvalidInput
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	default:
		return ReasonInternal
	}
}

// Retryable reports whether nothing was committed and the same call may be repeated.
func Retryable(err error) bool {
	r := ReasonOf(err)
	return r == ReasonRetry || r == ReasonInternal
}

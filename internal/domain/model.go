package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountPending   AccountType = "PENDING"
	AccountAvailable AccountType = "AVAILABLE"
	AccountFrozen    AccountType = "FROZEN"
	AccountPlatform  AccountType = "PLATFORM"
)

// WalletAccountTypes is the full set every wallet owns.
var WalletAccountTypes = []AccountType{AccountPending, AccountAvailable, AccountFrozen}

type PlatformAccountName string

const (
	PlatformFees   PlatformAccountName = "PLATFORM_FEES"
	PlatformEscrow PlatformAccountName = "PLATFORM_ESCROW"
)

func (n PlatformAccountName) Valid() bool {
	return n == PlatformFees || n == PlatformEscrow
}

// Account is a balance bucket. Wallet accounts carry WalletID; platform
// accounts carry Name and may run negative.
type Account struct {
	ID            uuid.UUID
	WalletID      *uuid.UUID
	Type          AccountType
	Name          PlatformAccountName
	Balance       decimal.Decimal
	Currency      string
	AllowNegative bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Account) IsPlatform() bool { return a.Type == AccountPlatform }

// CanDebit reports whether amount can leave the account without overdrawing it.
func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.AllowNegative || a.Balance.GreaterThanOrEqual(amount)
}

type Wallet struct {
	ID        uuid.UUID
	UserID    string
	Currency  string
	CreatedAt time.Time
	Accounts  []*Account
}

// Account is a pure lookup; absence is reported, not an error.
func (w *Wallet) Account(t AccountType) (*Account, bool) {
	if w == nil {
		return nil, false
	}
	for _, a := range w.Accounts {
		if a.Type == t {
			return a, true
		}
	}
	return nil, false
}

// Complete reports whether the wallet owns one account of every type.
func (w *Wallet) Complete() bool {
	for _, t := range WalletAccountTypes {
		if _, ok := w.Account(t); !ok {
			return false
		}
	}
	return true
}

func (w *Wallet) Balance(t AccountType) decimal.Decimal {
	if a, ok := w.Account(t); ok {
		return a.Balance
	}
	return decimal.Zero
}

type WalletDetails struct {
	Wallet            *Wallet         `json:"wallet"`
	Pending           decimal.Decimal `json:"pending"`
	Available         decimal.Decimal `json:"available"`
	Frozen            decimal.Decimal `json:"frozen"`
	OutstandingPayout decimal.Decimal `json:"outstanding_payout"`
	Withdrawable      decimal.Decimal `json:"withdrawable"`
	ExternalBalance   []Money         `json:"external_balance,omitempty"`
	RecentEntries     []*LedgerEntry  `json:"recent_entries"`
}

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type PayoutDestination struct {
	UserID            string
	ExternalAccountID string
	Verified          bool
}

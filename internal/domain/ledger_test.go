package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGenerateIdempotencyKey(t *testing.T) {
	assert.Equal(t, "RELEASE:order:o-1", GenerateIdempotencyKey(EntryRelease, "order", "o-1"))
	assert.Equal(t, GenerateIdempotencyKey(EntryRelease, "order", "o-1"), GenerateIdempotencyKey(EntryRelease, "order", "o-1"))

	batch := time.Unix(0, 1700000000000000000)
	assert.Equal(t, "RELEASE:auto:o-1:1700000000000000000", GenerateIdempotencyKey(EntryRelease, "auto", "o-1", batch))
	assert.NotEqual(t,
		GenerateIdempotencyKey(EntryRelease, "auto", "o-1", batch),
		GenerateIdempotencyKey(EntryRelease, "auto", "o-1", batch.Add(time.Minute)))
}

func TestLedgerEntry_IsAnnotation(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	assert.True(t, (&LedgerEntry{DebitAccountID: a, CreditAccountID: a}).IsAnnotation())
	assert.False(t, (&LedgerEntry{DebitAccountID: a, CreditAccountID: b}).IsAnnotation())
}

func TestAccount_CanDebit(t *testing.T) {
	ten := decimal.NewFromInt(10)

	assert.True(t, (&Account{Balance: ten}).CanDebit(ten))
	assert.False(t, (&Account{Balance: ten}).CanDebit(decimal.NewFromInt(11)))
	assert.True(t, (&Account{Balance: decimal.Zero, AllowNegative: true}).CanDebit(ten))
}

func TestWallet_Accounts(t *testing.T) {
	w := &Wallet{Accounts: []*Account{
		{Type: AccountPending, Balance: decimal.NewFromInt(3)},
		{Type: AccountAvailable},
	}}

	assert.False(t, w.Complete())
	assert.Equal(t, "3", w.Balance(AccountPending).String())
	assert.True(t, w.Balance(AccountFrozen).IsZero())

	w.Accounts = append(w.Accounts, &Account{Type: AccountFrozen})
	assert.True(t, w.Complete())

	var missing *Wallet
	_, ok := missing.Account(AccountPending)
	assert.False(t, ok)
}

func TestLedgerEntry_Matches(t *testing.T) {
	debit, credit := uuid.New(), uuid.New()
	req := &PostingReq{
		Type: EntryRelease, Amount: decimal.RequireFromString("15.00"), Currency: "USD",
		DebitAccountID: debit, CreditAccountID: credit,
		ReferenceType: ReferenceOrder, ReferenceID: "o-1", IdempotencyKey: "RELEASE:order:o-1",
	}
	entry := &LedgerEntry{
		Type: EntryRelease, Amount: decimal.NewFromInt(15), Currency: "USD",
		DebitAccountID: debit, CreditAccountID: credit,
		ReferenceType: ReferenceOrder, ReferenceID: "o-1",
	}

	assert.True(t, entry.Matches(req))

	entry.ReferenceID = "o-2"
	assert.False(t, entry.Matches(req))

	entry.ReferenceID, entry.Type = "o-1", EntryDeposit
	assert.False(t, entry.Matches(req))
}

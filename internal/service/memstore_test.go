package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the Postgres repositories. Transactions
// are serialised by txMu and rolled back through an undo log, which gives the
// same observable behaviour as row locks for the flows under test.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	wallets      map[string]*domain.Wallet
	accounts     map[uuid.UUID]*domain.Account
	platform     map[domain.PlatformAccountName]uuid.UUID
	entries      []*domain.LedgerEntry
	orders       map[uuid.UUID]*domain.Order
	payouts      map[uuid.UUID]*domain.PayoutRequest
	destinations map[string]*domain.PayoutDestination
	processed    map[string]*domain.ProcessedEvent
	reopened     []string
}

func newMemStore() *memStore {
	return &memStore{
		wallets:      map[string]*domain.Wallet{},
		accounts:     map[uuid.UUID]*domain.Account{},
		platform:     map[domain.PlatformAccountName]uuid.UUID{},
		orders:       map[uuid.UUID]*domain.Order{},
		payouts:      map[uuid.UUID]*domain.PayoutRequest{},
		destinations: map[string]*domain.PayoutDestination{},
		processed:    map[string]*domain.ProcessedEvent{},
	}
}

type memTxKey struct{}

type memTx struct {
	undo []func()
}

func txOf(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

// record registers how to revert a write made under ctx. Caller holds mu.
func (s *memStore) record(ctx context.Context, undo func()) {
	if tx := txOf(ctx); tx != nil {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *memStore) InTx(ctx context.Context) bool { return txOf(ctx) != nil }

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.InTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Ports served by the store.
func (s *memStore) walletRepo() port.WalletRepository                 { return memWallets{s} }
func (s *memStore) accountRepo() port.AccountRepository               { return memAccounts{s} }
func (s *memStore) ledgerRepo() port.LedgerRepository                 { return memLedger{s} }
func (s *memStore) orderRepo() port.OrderRepository                   { return memOrders{s} }
func (s *memStore) payoutRepo() port.PayoutRepository                 { return memPayouts{s} }
func (s *memStore) destinationRepo() port.PayoutDestinationRepository { return memDestinations{s} }
func (s *memStore) processedRepo() port.ProcessedEventRepository      { return memProcessed{s} }
func (s *memStore) reopener() port.RequestReopener                    { return memReopener{s} }

// Test helpers.

func (s *memStore) balance(userID string, t domain.AccountType) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return decimal.Zero
	}
	for _, a := range w.Accounts {
		if a.Type == t {
			return s.accounts[a.ID].Balance
		}
	}
	return decimal.Zero
}

func (s *memStore) platformBalance(name domain.PlatformAccountName) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.platform[name]; ok {
		return s.accounts[id].Balance
	}
	return decimal.Zero
}

func (s *memStore) setBalance(userID string, t domain.AccountType, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.wallets[userID].Accounts {
		if a.Type == t {
			s.accounts[a.ID].Balance = amount
		}
	}
}

func (s *memStore) entriesOfType(t domain.EntryType) []*domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range s.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) order(id uuid.UUID) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := *s.orders[id]
	return &o
}

func (s *memStore) addDestination(userID, externalID string, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations[userID] = &domain.PayoutDestination{UserID: userID, ExternalAccountID: externalID, Verified: verified}
}

// wallets

type memWallets struct{ s *memStore }

func (r memWallets) Ensure(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[userID]
	if !ok {
		w = &domain.Wallet{ID: uuid.New(), UserID: userID, Currency: currency, CreatedAt: time.Now()}
		for _, t := range domain.WalletAccountTypes {
			walletID := w.ID
			a := &domain.Account{ID: uuid.New(), WalletID: &walletID, Type: t, Currency: currency}
			r.s.accounts[a.ID] = a
			w.Accounts = append(w.Accounts, a)
		}
		r.s.wallets[userID] = w
		r.s.record(ctx, func() {
			delete(r.s.wallets, userID)
			for _, a := range w.Accounts {
				delete(r.s.accounts, a.ID)
			}
		})
	}
	return r.s.walletCopy(w), nil
}

func (r memWallets) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return r.s.walletCopy(w), nil
}

func (s *memStore) walletCopy(w *domain.Wallet) *domain.Wallet {
	out := *w
	out.Accounts = nil
	for _, a := range w.Accounts {
		c := *s.accounts[a.ID]
		out.Accounts = append(out.Accounts, &c)
	}
	return &out
}

// accounts

type memAccounts struct{ s *memStore }

func (r memAccounts) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (r memAccounts) EnsurePlatform(ctx context.Context, name domain.PlatformAccountName, currency string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.platform[name]
	if !ok {
		a := &domain.Account{ID: uuid.New(), Type: domain.AccountPlatform, Name: name, Currency: currency, AllowNegative: true}
		r.s.accounts[a.ID] = a
		r.s.platform[name] = a.ID
		id = a.ID
		r.s.record(ctx, func() {
			delete(r.s.accounts, a.ID)
			delete(r.s.platform, name)
		})
	}
	c := *r.s.accounts[id]
	return &c, nil
}

func (r memAccounts) LockByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	if !r.s.InTx(ctx) {
		return nil, fmt.Errorf("%w: account locks need a transaction", domain.ErrRepository)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range ids {
		a, ok := r.s.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		}
		c := *a
		out[id] = &c
	}
	return out, nil
}

func (r memAccounts) AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	next := a.Balance.Add(delta)
	if !a.AllowNegative && next.IsNegative() {
		return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, id)
	}
	prev := a.Balance
	a.Balance = next
	r.s.record(ctx, func() { a.Balance = prev })
	return nil
}

// ledger

type memLedger struct{ s *memStore }

func (r memLedger) Create(ctx context.Context, e *domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.entries {
		if x.IdempotencyKey == e.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key %s", domain.ErrAlreadyApplied, e.IdempotencyKey)
		}
		if e.ProviderEventID != nil && x.ProviderEventID != nil && *x.ProviderEventID == *e.ProviderEventID {
			return fmt.Errorf("%w: provider event %s", domain.ErrAlreadyApplied, *e.ProviderEventID)
		}
	}
	r.s.entries = append(r.s.entries, e)
	n := len(r.s.entries)
	r.s.record(ctx, func() { r.s.entries = r.s.entries[:n-1] })
	return nil
}

func (r memLedger) find(match func(*domain.LedgerEntry) bool) *domain.LedgerEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if match(e) {
			return e
		}
	}
	return nil
}

func (r memLedger) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return r.find(func(e *domain.LedgerEntry) bool { return e.IdempotencyKey == key }), nil
}

func (r memLedger) GetByProviderEventID(ctx context.Context, eventID string) (*domain.LedgerEntry, error) {
	return r.find(func(e *domain.LedgerEntry) bool {
		return e.ProviderEventID != nil && *e.ProviderEventID == eventID
	}), nil
}

func (r memLedger) ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range r.s.entries {
		if e.ReferenceType == refType && e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memLedger) ListByAccounts(ctx context.Context, accountIDs []uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := map[uuid.UUID]bool{}
	for _, id := range accountIDs {
		ids[id] = true
	}
	var out []*domain.LedgerEntry
	for i := len(r.s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.s.entries[i]; ids[e.DebitAccountID] || ids[e.CreditAccountID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// orders

type memOrders struct{ s *memStore }

func (r memOrders) Create(ctx context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *o
	r.s.orders[o.ID] = &c
	r.s.record(ctx, func() { delete(r.s.orders, o.ID) })
	return nil
}

func (r memOrders) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (r memOrders) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r memOrders) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentIntentID == paymentIntentID {
			c := *o
			return &c, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r memOrders) Update(ctx context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	c := *o
	r.s.orders[o.ID] = &c
	r.s.record(ctx, func() { r.s.orders[o.ID] = prev })
	return nil
}

func (r memOrders) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.Status == domain.OrderPaid && o.ReleaseAt != nil && !o.ReleaseAt.After(now) {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseAt.Before(*out[j].ReleaseAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// payouts

type memPayouts struct{ s *memStore }

func (r memPayouts) Create(ctx context.Context, p *domain.PayoutRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.payouts {
		if x.IdempotencyKey == p.IdempotencyKey {
			return fmt.Errorf("%w: payout key %s", domain.ErrAlreadyApplied, p.IdempotencyKey)
		}
	}
	c := *p
	r.s.payouts[p.ID] = &c
	r.s.record(ctx, func() { delete(r.s.payouts, p.ID) })
	return nil
}

func (r memPayouts) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[id]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	c := *p
	return &c, nil
}

func (r memPayouts) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.GetByID(ctx, id)
}

func (r memPayouts) first(match func(*domain.PayoutRequest) bool) *domain.PayoutRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payouts {
		if match(p) {
			c := *p
			return &c
		}
	}
	return nil
}

func (r memPayouts) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutRequest, error) {
	return r.first(func(p *domain.PayoutRequest) bool { return p.IdempotencyKey == key }), nil
}

func (r memPayouts) GetByExternalID(ctx context.Context, externalID string) (*domain.PayoutRequest, error) {
	return r.first(func(p *domain.PayoutRequest) bool { return p.ExternalPayoutID == externalID }), nil
}

func (r memPayouts) Update(ctx context.Context, p *domain.PayoutRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.payouts[p.ID]
	if !ok {
		return domain.ErrPayoutNotFound
	}
	c := *p
	r.s.payouts[p.ID] = &c
	r.s.record(ctx, func() { r.s.payouts[p.ID] = prev })
	return nil
}

func (r memPayouts) SumOutstanding(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sum := decimal.Zero
	for _, p := range r.s.payouts {
		if p.WalletID == walletID && (p.Status == domain.PayoutPending || p.Status == domain.PayoutProcessing) {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

// destinations, processed events, delivery requests

type memDestinations struct{ s *memStore }

func (r memDestinations) GetByUserID(ctx context.Context, userID string) (*domain.PayoutDestination, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.destinations[userID]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

type memProcessed struct{ s *memStore }

func (r memProcessed) Exists(ctx context.Context, providerEventID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.processed[providerEventID]
	return ok, nil
}

func (r memProcessed) Record(ctx context.Context, ev *domain.ProcessedEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.processed[ev.ProviderEventID]; !ok {
		r.s.processed[ev.ProviderEventID] = ev
	}
	return nil
}

type memReopener struct{ s *memStore }

func (r memReopener) Reopen(ctx context.Context, requestID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.reopened = append(r.s.reopened, requestID)
	n := len(r.s.reopened)
	r.s.record(ctx, func() { r.s.reopened = r.s.reopened[:n-1] })
	return nil
}

// memCache is the shared event cache.
type memCache struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemCache() *memCache { return &memCache{seen: map[string]bool{}} }

func (c *memCache) Seen(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.seen[id], nil
}

func (c *memCache) MarkSeen(ctx context.Context, id string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[id] = true
	return c.err
}

// memPublisher collects routing keys.
type memPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *memPublisher) Publish(ctx context.Context, routingKey string, ev *domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *memPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// fakeProcessor behaves like the processor's idempotency layer: a repeated
// key returns the original object.
type fakeProcessor struct {
	mu        sync.Mutex
	refunds   map[string]*domain.Refund
	transfers map[string]*domain.Transfer
	cancelled []string
	failWith  error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{refunds: map[string]*domain.Refund{}, transfers: map[string]*domain.Transfer{}}
}

func (f *fakeProcessor) CreatePaymentIntent(ctx context.Context, o *domain.Order) (*domain.PaymentIntent, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &domain.PaymentIntent{ID: "pi_" + o.ID.String(), ClientSecret: "secret", Status: "requires_payment_method",
		Amount: o.TotalAmount, Currency: o.Currency}, nil
}

func (f *fakeProcessor) RetrievePaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return &domain.PaymentIntent{ID: id}, nil
}

func (f *fakeProcessor) CancelPaymentIntent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, req *domain.RefundReq) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if r, ok := f.refunds[req.IdempotencyKey]; ok {
		return r, nil
	}
	r := &domain.Refund{ID: fmt.Sprintf("re_%d", len(f.refunds)+1), Status: "succeeded"}
	f.refunds[req.IdempotencyKey] = r
	return r, nil
}

func (f *fakeProcessor) CreateTransfer(ctx context.Context, req *domain.TransferReq) (*domain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if t, ok := f.transfers[req.IdempotencyKey]; ok {
		return t, nil
	}
	t := &domain.Transfer{ID: fmt.Sprintf("tr_%d", len(f.transfers)+1)}
	f.transfers[req.IdempotencyKey] = t
	return t, nil
}

func (f *fakeProcessor) RetrieveAccountBalance(ctx context.Context, accountID string) ([]domain.Money, error) {
	return []domain.Money{{Amount: decimal.NewFromInt(1), Currency: "usd"}}, nil
}

func (f *fakeProcessor) VerifyEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	return nil, errors.New("not used in service tests")
}

func (f *fakeProcessor) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

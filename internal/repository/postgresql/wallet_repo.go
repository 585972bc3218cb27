package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
)

type walletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) port.WalletRepository {
	return &walletRepository{db: db}
}

// Ensure relies on the unique constraints on wallets.user_id and
// accounts(wallet_id, type): concurrent first access inserts nothing twice.
// Callers run it inside a transaction so the wallet never appears without
// its accounts.
func (r *walletRepository) Ensure(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	const insertWallet = `INSERT INTO wallets (id, user_id, currency, created_at)
	VALUES ($1, $2, $3, $4) ON CONFLICT (user_id) DO NOTHING`
	const insertAccount = `INSERT INTO accounts (id, wallet_id, type, balance, currency, allow_negative, created_at, updated_at)
	VALUES ($1, $2, $3, 0, $4, FALSE, $5, $5) ON CONFLICT (wallet_id, type) DO NOTHING`

	q := conn(ctx, r.db)
	now := time.Now().UTC()

	if _, err := q.ExecContext(ctx, insertWallet, uuid.New(), userID, currency, now); err != nil {
		return nil, mapErr(err)
	}

	w, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.Complete() {
		return w, nil
	}

	for _, t := range domain.WalletAccountTypes {
		if _, ok := w.Account(t); ok {
			continue
		}
		if _, err := q.ExecContext(ctx, insertAccount, uuid.New(), w.ID, t, w.Currency, now); err != nil {
			return nil, mapErr(err)
		}
	}

	return r.GetByUserID(ctx, userID)
}

func (r *walletRepository) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	const query = `SELECT id, user_id, currency, created_at FROM wallets WHERE user_id = $1`

	q := conn(ctx, r.db)

	var w domain.Wallet
	err := q.QueryRowContext(ctx, query, userID).Scan(&w.ID, &w.UserID, &w.Currency, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE wallet_id = $1 ORDER BY type`, w.ID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		w.Accounts = append(w.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	return &w, nil
}

package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, wallet_id, type, name, balance, currency, allow_negative, created_at, updated_at`

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) port.AccountRepository {
	return &accountRepository{db: db}
}

func scanAccount(s rowScanner) (*domain.Account, error) {
	var (
		a        domain.Account
		walletID uuid.NullUUID
		name     sql.NullString
	)
	err := s.Scan(&a.ID, &walletID, &a.Type, &name, &a.Balance, &a.Currency, &a.AllowNegative, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if walletID.Valid {
		id := walletID.UUID
		a.WalletID = &id
	}
	a.Name = domain.PlatformAccountName(name.String)
	return &a, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, err := scanAccount(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// EnsurePlatform creates the named house account on first use. Platform
// accounts are clearing accounts and may carry a negative balance.
func (r *accountRepository) EnsurePlatform(ctx context.Context, name domain.PlatformAccountName, currency string) (*domain.Account, error) {
	const insert = `INSERT INTO accounts (id, wallet_id, type, name, balance, currency, allow_negative, created_at, updated_at)
	VALUES ($1, NULL, $2, $3, 0, $4, TRUE, $5, $5) ON CONFLICT (name) DO NOTHING`

	q := conn(ctx, r.db)
	if _, err := q.ExecContext(ctx, insert, uuid.New(), domain.AccountPlatform, name, currency, time.Now().UTC()); err != nil {
		return nil, mapErr(err)
	}

	a, err := scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE name = $1`, name))
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// LockByIDs locks rows in ascending id order so two postings over the same
// pair of accounts can never deadlock each other.
func (r *accountRepository) LockByIDs(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	if _, ok := getTr(ctx); !ok {
		return nil, fmt.Errorf("%w: account lock requires a transaction", domain.ErrRepository)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]*domain.Account, len(keys))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		locked[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	if len(locked) != len(keys) {
		var missing []string
		for _, k := range keys {
			if _, ok := locked[uuid.MustParse(k)]; !ok {
				missing = append(missing, k)
			}
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, strings.Join(missing, ","))
	}
	return locked, nil
}

// AddBalance applies delta with the overdraft guard in the same statement.
func (r *accountRepository) AddBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = balance + $1, updated_at = $2
	WHERE id = $3 AND (allow_negative OR balance + $1 >= 0)`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, delta, time.Now().UTC(), id)
	if err != nil {
		return mapErr(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, id)
	}
	return nil
}

package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const ledgerColumns = `id, type, status, amount, currency, debit_account_id, credit_account_id,
	reference_type, reference_id, idempotency_key, provider_event_id, description, metadata, created_by, created_at`

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) port.LedgerRepository {
	return &ledgerRepository{db: db}
}

func scanEntry(s rowScanner) (*domain.LedgerEntry, error) {
	var (
		e       domain.LedgerEntry
		eventID sql.NullString
		meta    []byte
	)
	err := s.Scan(&e.ID, &e.Type, &e.Status, &e.Amount, &e.Currency, &e.DebitAccountID, &e.CreditAccountID,
		&e.ReferenceType, &e.ReferenceID, &e.IdempotencyKey, &eventID, &e.Description, &meta, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if eventID.Valid {
		e.ProviderEventID = &eventID.String
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("ledger entry %s metadata: %w", e.ID, err)
		}
	}
	return &e, nil
}

// Create inserts the entry. A collision on idempotency_key or
// provider_event_id surfaces as domain.ErrAlreadyApplied.
func (r *ledgerRepository) Create(ctx context.Context, e *domain.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (` + ledgerColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", domain.ErrValidation, err)
	}

	_, err = conn(ctx, r.db).ExecContext(ctx, query,
		e.ID, e.Type, e.Status, e.Amount, e.Currency, e.DebitAccountID, e.CreditAccountID,
		e.ReferenceType, e.ReferenceID, e.IdempotencyKey, e.ProviderEventID, e.Description, meta, e.CreatedBy, e.CreatedAt,
	)
	return mapErr(err)
}

func (r *ledgerRepository) getOne(ctx context.Context, where string, arg any) (*domain.LedgerEntry, error) {
	e, err := scanEntry(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (r *ledgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return r.getOne(ctx, `idempotency_key = $1`, key)
}

func (r *ledgerRepository) GetByProviderEventID(ctx context.Context, eventID string) (*domain.LedgerEntry, error) {
	return r.getOne(ctx, `provider_event_id = $1`, eventID)
}

func (r *ledgerRepository) ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.LedgerEntry, error) {
	return r.list(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries
	WHERE reference_type = $1 AND reference_id = $2 ORDER BY created_at, id`, refType, refID)
}

func (r *ledgerRepository) ListByAccounts(ctx context.Context, accountIDs []uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	ids := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		ids = append(ids, id.String())
	}
	return r.list(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries
	WHERE debit_account_id = ANY($1::uuid[]) OR credit_account_id = ANY($1::uuid[])
	ORDER BY created_at DESC, id LIMIT $2`, pq.Array(ids), limit)
}

func (r *ledgerRepository) list(ctx context.Context, query string, args ...any) ([]*domain.LedgerEntry, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return entries, nil
}

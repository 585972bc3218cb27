package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const payoutColumns = `id, wallet_id, user_id, amount, currency, status, idempotency_key, destination_id,
	external_payout_id, failure_code, failure_reason, created_at, updated_at, completed_at`

type payoutRepository struct {
	db *sql.DB
}

func NewPayoutRepository(db *sql.DB) port.PayoutRepository {
	return &payoutRepository{db: db}
}

func scanPayout(s rowScanner) (*domain.PayoutRequest, error) {
	var (
		p          domain.PayoutRequest
		externalID sql.NullString
	)
	err := s.Scan(&p.ID, &p.WalletID, &p.UserID, &p.Amount, &p.Currency, &p.Status, &p.IdempotencyKey, &p.DestinationID,
		&externalID, &p.FailureCode, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	p.ExternalPayoutID = externalID.String
	return &p, nil
}

// external_payout_id is unique but unset until processing, so it is stored as NULL when empty.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *payoutRepository) Create(ctx context.Context, p *domain.PayoutRequest) error {
	const query = `INSERT INTO payout_requests (` + payoutColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.ID, p.WalletID, p.UserID, p.Amount, p.Currency, p.Status, p.IdempotencyKey, p.DestinationID,
		nullable(p.ExternalPayoutID), p.FailureCode, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	return mapErr(err)
}

func (r *payoutRepository) getOne(ctx context.Context, query string, arg any, missing error) (*domain.PayoutRequest, error) {
	p, err := scanPayout(conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missing
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (r *payoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.getOne(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id, domain.ErrPayoutNotFound)
}

func (r *payoutRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.getOne(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id, domain.ErrPayoutNotFound)
}

func (r *payoutRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutRequest, error) {
	return r.getOne(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE idempotency_key = $1`, key, nil)
}

func (r *payoutRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.PayoutRequest, error) {
	return r.getOne(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE external_payout_id = $1 FOR UPDATE`, externalID, nil)
}

func (r *payoutRepository) Update(ctx context.Context, p *domain.PayoutRequest) error {
	const query = `UPDATE payout_requests SET status = $1, destination_id = $2, external_payout_id = $3,
	failure_code = $4, failure_reason = $5, updated_at = $6, completed_at = $7 WHERE id = $8`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.Status, p.DestinationID, nullable(p.ExternalPayoutID), p.FailureCode, p.FailureReason, p.UpdatedAt, p.CompletedAt, p.ID,
	)
	if err != nil {
		return mapErr(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}

func (r *payoutRepository) SumOutstanding(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM payout_requests WHERE wallet_id = $1 AND status IN ($2, $3)`

	var total decimal.Decimal
	err := conn(ctx, r.db).QueryRowContext(ctx, query, walletID, domain.PayoutPending, domain.PayoutProcessing).Scan(&total)
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	return total, nil
}

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

const orderColumns = `id, request_id, buyer_id, traveler_id, goods_value, duty_free, duty_amount, platform_fee,
	traveller_service_fee, total_amount, traveler_amount, currency, status, release_at, payment_intent_id,
	payment_client_secret, charge_id, refund_id, last_payment_error, dispute_reason, resolution,
	paid_at, completed_at, cancelled_at, refunded_at, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) port.OrderRepository {
	return &orderRepository{db: db}
}

func scanOrder(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(&o.ID, &o.RequestID, &o.BuyerID, &o.TravelerID, &o.GoodsValue, &o.DutyFree, &o.DutyAmount, &o.PlatformFee,
		&o.TravellerServiceFee, &o.TotalAmount, &o.TravelerAmount, &o.Currency, &o.Status, &o.ReleaseAt, &o.PaymentIntentID,
		&o.PaymentClientSecret, &o.ChargeID, &o.RefundID, &o.LastPaymentError, &o.DisputeReason, &o.Resolution,
		&o.PaidAt, &o.CompletedAt, &o.CancelledAt, &o.RefundedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepository) Create(ctx context.Context, o *domain.Order) error {
	const query = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		o.ID, o.RequestID, o.BuyerID, o.TravelerID, o.GoodsValue, o.DutyFree, o.DutyAmount, o.PlatformFee,
		o.TravellerServiceFee, o.TotalAmount, o.TravelerAmount, o.Currency, o.Status, o.ReleaseAt, o.PaymentIntentID,
		o.PaymentClientSecret, o.ChargeID, o.RefundID, o.LastPaymentError, o.DisputeReason, o.Resolution,
		o.PaidAt, o.CompletedAt, o.CancelledAt, o.RefundedAt, o.CreatedAt, o.UpdatedAt,
	)
	return mapErr(err)
}

func (r *orderRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, paymentIntentID)
}

// Update writes the mutable columns; amounts are fixed at creation.
func (r *orderRepository) Update(ctx context.Context, o *domain.Order) error {
	const query = `UPDATE orders SET status = $1, release_at = $2, payment_intent_id = $3, payment_client_secret = $4,
	charge_id = $5, refund_id = $6, last_payment_error = $7, dispute_reason = $8, resolution = $9,
	paid_at = $10, completed_at = $11, cancelled_at = $12, refunded_at = $13, updated_at = $14
	WHERE id = $15`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		o.Status, o.ReleaseAt, o.PaymentIntentID, o.PaymentClientSecret,
		o.ChargeID, o.RefundID, o.LastPaymentError, o.DisputeReason, o.Resolution,
		o.PaidAt, o.CompletedAt, o.CancelledAt, o.RefundedAt, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return mapErr(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders
	WHERE status = $1 AND release_at <= $2 ORDER BY release_at, id LIMIT $3`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, domain.OrderPaid, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return orders, nil
}

package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"
)

type processedEventRepository struct {
	db *sql.DB
}

func NewProcessedEventRepository(db *sql.DB) port.ProcessedEventRepository {
	return &processedEventRepository{db: db}
}

func (r *processedEventRepository) Exists(ctx context.Context, providerEventID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider_event_id = $1)`

	var ok bool
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, providerEventID).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

// Record is idempotent: a second record of the same event keeps the first.
func (r *processedEventRepository) Record(ctx context.Context, ev *domain.ProcessedEvent) error {
	const query = `INSERT INTO processed_events (provider_event_id, type, outcome, detail, processed_at)
	VALUES ($1, $2, $3, $4, $5) ON CONFLICT (provider_event_id) DO NOTHING`

	_, err := conn(ctx, r.db).ExecContext(ctx, query, ev.ProviderEventID, ev.Type, ev.Outcome, ev.Detail, ev.ProcessedAt)
	return mapErr(err)
}

type destinationRepository struct {
	db *sql.DB
}

func NewPayoutDestinationRepository(db *sql.DB) port.PayoutDestinationRepository {
	return &destinationRepository{db: db}
}

func (r *destinationRepository) GetByUserID(ctx context.Context, userID string) (*domain.PayoutDestination, error) {
	const query = `SELECT user_id, external_account_id, verified FROM payout_destinations WHERE user_id = $1`

	var d domain.PayoutDestination
	err := conn(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(&d.UserID, &d.ExternalAccountID, &d.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

type requestReopener struct {
	db *sql.DB
}

// NewRequestReopener returns the hook that flips a delivery request back to
// OPEN. The request table is owned by the matching service; only its status
// column is touched here.
func NewRequestReopener(db *sql.DB) port.RequestReopener {
	return &requestReopener{db: db}
}

func (r *requestReopener) Reopen(ctx context.Context, requestID string) error {
	const query = `INSERT INTO delivery_requests (id, status, updated_at) VALUES ($1, 'OPEN', $2)
	ON CONFLICT (id) DO UPDATE SET status = 'OPEN', updated_at = EXCLUDED.updated_at`

	_, err := conn(ctx, r.db).ExecContext(ctx, query, requestID, time.Now().UTC())
	return mapErr(err)
}

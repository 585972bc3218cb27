package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrowledger/internal/domain"
	"escrowledger/internal/port"

	"github.com/lib/pq"
)

type ctxtype string

const (
	trKey ctxtype = "tx"
)

var (
	uniqueConstraint     pq.ErrorCode = "23505"
	checkConstraint      pq.ErrorCode = "23514"
	serializationFailure pq.ErrorCode = "40001"
	deadlockDetected     pq.ErrorCode = "40P01"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getTr(ctx context.Context) (*sql.Tx, bool) {
	tr, ok := ctx.Value(trKey).(*sql.Tx)
	return tr, ok
}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) querier {
	if tr, ok := getTr(ctx); ok {
		return tr
	}
	return db
}

// mapErr converts driver errors into domain errors. Unique violations become
// ErrAlreadyApplied; everything else the store reports is a retryable
// ErrRepository.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueConstraint:
			return fmt.Errorf("%w: %s", domain.ErrAlreadyApplied, pqErr.Constraint)
		case checkConstraint:
			if pqErr.Constraint == "accounts_balance_check" {
				return domain.ErrInsufficientFunds
			}
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrRepository, pqErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrRepository, err)
}

type txManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) port.TxManager {
	return &txManager{db: db}
}

func (m *txManager) InTx(ctx context.Context) bool {
	_, ok := getTr(ctx)
	return ok
}

func (m *txManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if m.InTx(ctx) {
		return fn(ctx)
	}

	tr, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapErr(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tr.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, trKey, tr)); err != nil {
		_ = tr.Rollback()
		return err
	}

	if err := tr.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

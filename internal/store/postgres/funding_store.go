package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// FundingStore implements domain.FundingStore using PostgreSQL.
type FundingStore struct {
	pool *pgxpool.Pool
}

// NewFundingStore creates a new FundingStore backed by the given connection pool.
func NewFundingStore(pool *pgxpool.Pool) *FundingStore {
	return &FundingStore{pool: pool}
}

// InsertBatch inserts funding payments using pgx Batch. Duplicates (same
// exchange and external ledger id) are silently skipped via ON CONFLICT DO
// NOTHING, which makes repeated syncs idempotent.
func (s *FundingStore) InsertBatch(ctx context.Context, payments []domain.FundingPayment) error {
	if len(payments) == 0 {
		return nil
	}

	const query = `
		INSERT INTO funding_payments (
			position_id, user_id, exchange, symbol, side, amount, paid_at, external_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exchange, external_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, p := range payments {
		batch.Queue(query,
			p.PositionID, p.UserID, p.Exchange, p.Symbol,
			string(p.Side), p.Amount, p.PaidAt, p.ExternalID,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range payments {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert funding payments: %w", err)
		}
	}
	return nil
}

// SumForPosition returns the signed funding total accumulated for a position.
func (s *FundingStore) SumForPosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM funding_payments WHERE position_id = $1`,
		positionID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum funding for %s: %w", positionID, err)
	}
	return sum, nil
}

// LastPaidAt returns the timestamp of the newest recorded payment for one leg
// of a position, or the zero time when none exist.
func (s *FundingStore) LastPaidAt(ctx context.Context, positionID string, side domain.LegSide) (time.Time, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT paid_at FROM funding_payments
		 WHERE position_id = $1 AND side = $2
		 ORDER BY paid_at DESC LIMIT 1`,
		positionID, string(side),
	).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("postgres: last funding for %s: %w", positionID, err)
	}
	return last, nil
}

// Compile-time interface check.
var _ domain.FundingStore = (*FundingStore)(nil)

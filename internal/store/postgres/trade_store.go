package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundingarb/basisbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, user_id, symbol,
	long_exchange, short_exchange, long_entry, long_exit, short_entry, short_exit,
	size, price_diff_pnl, funding_pnl, total_fees, total_pnl, margin_used, roi_pct,
	holding_seconds, close_reason, opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var closeReason string
	err := row.Scan(
		&t.ID, &t.PositionID, &t.UserID, &t.Symbol,
		&t.LongExchange, &t.ShortExchange,
		&t.LongEntry, &t.LongExit, &t.ShortEntry, &t.ShortExit,
		&t.Size, &t.PriceDiffPnL, &t.FundingPnL, &t.TotalFees,
		&t.TotalPnL, &t.MarginUsed, &t.ROIPct,
		&t.HoldingSeconds, &closeReason, &t.OpenedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.CloseReason = domain.CloseReason(closeReason)
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts the settlement record for a closed position. Trades are
// immutable; there is no update path.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, position_id, user_id, symbol,
			long_exchange, short_exchange, long_entry, long_exit, short_entry, short_exit,
			size, price_diff_pnl, funding_pnl, total_fees, total_pnl, margin_used, roi_pct,
			holding_seconds, close_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.UserID, t.Symbol,
		t.LongExchange, t.ShortExchange,
		t.LongEntry, t.LongExit, t.ShortEntry, t.ShortExit,
		t.Size, t.PriceDiffPnL, t.FundingPnL, t.TotalFees,
		t.TotalPnL, t.MarginUsed, t.ROIPct,
		t.HoldingSeconds, string(t.CloseReason), t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByPositionID retrieves the trade settled for a position.
func (s *TradeStore) GetByPositionID(ctx context.Context, positionID string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE position_id = $1`, positionID)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade for position %s: %w", positionID, err)
	}
	return t, nil
}

// ListByUser returns a user's trades with pagination and optional time
// filtering on closed_at.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", userID, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", userID, err)
	}
	return trades, nil
}

// ListClosedBefore returns trades closed strictly before the cutoff, oldest
// first, for archival.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE closed_at < $1 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before %s: %w", before, err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

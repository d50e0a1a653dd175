package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundingarb/basisbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_id, symbol, status, cond_status, failure_reason, close_reason,
	long_exchange, long_entry_price, long_exit_price, long_size, long_leverage,
	long_open_order_id, long_close_order_id, long_open_fee, long_close_fee,
	long_sl_price, long_sl_order_id, long_tp_price, long_tp_order_id,
	short_exchange, short_entry_price, short_exit_price, short_size, short_leverage,
	short_open_order_id, short_close_order_id, short_open_fee, short_close_fee,
	short_sl_price, short_sl_order_id, short_tp_price, short_tp_order_id,
	opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, condStat, closeReason string

	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &status, &condStat, &p.FailureReason, &closeReason,
		&p.Long.Exchange, &p.Long.EntryPrice, &p.Long.ExitPrice, &p.Long.Size, &p.Long.Leverage,
		&p.Long.OpenOrderID, &p.Long.CloseOrderID, &p.Long.OpenFee, &p.Long.CloseFee,
		&p.Long.StopLoss.Price, &p.Long.StopLoss.OrderID, &p.Long.TakeProfit.Price, &p.Long.TakeProfit.OrderID,
		&p.Short.Exchange, &p.Short.EntryPrice, &p.Short.ExitPrice, &p.Short.Size, &p.Short.Leverage,
		&p.Short.OpenOrderID, &p.Short.CloseOrderID, &p.Short.OpenFee, &p.Short.CloseFee,
		&p.Short.StopLoss.Price, &p.Short.StopLoss.OrderID, &p.Short.TakeProfit.Price, &p.Short.TakeProfit.OrderID,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.CondStat = domain.ConditionalStatus(condStat)
	p.CloseReason = domain.CloseReason(closeReason)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func positionArgs(p domain.Position) []any {
	return []any{
		p.ID, p.UserID, p.Symbol, string(p.Status), string(p.CondStat), p.FailureReason, string(p.CloseReason),
		p.Long.Exchange, p.Long.EntryPrice, p.Long.ExitPrice, p.Long.Size, p.Long.Leverage,
		p.Long.OpenOrderID, p.Long.CloseOrderID, p.Long.OpenFee, p.Long.CloseFee,
		p.Long.StopLoss.Price, p.Long.StopLoss.OrderID, p.Long.TakeProfit.Price, p.Long.TakeProfit.OrderID,
		p.Short.Exchange, p.Short.EntryPrice, p.Short.ExitPrice, p.Short.Size, p.Short.Leverage,
		p.Short.OpenOrderID, p.Short.CloseOrderID, p.Short.OpenFee, p.Short.CloseFee,
		p.Short.StopLoss.Price, p.Short.StopLoss.OrderID, p.Short.TakeProfit.Price, p.Short.TakeProfit.OrderID,
		p.OpenedAt, p.ClosedAt,
	}
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, user_id, symbol, status, cond_status, failure_reason, close_reason,
			long_exchange, long_entry_price, long_exit_price, long_size, long_leverage,
			long_open_order_id, long_close_order_id, long_open_fee, long_close_fee,
			long_sl_price, long_sl_order_id, long_tp_price, long_tp_order_id,
			short_exchange, short_entry_price, short_exit_price, short_size, short_leverage,
			short_open_order_id, short_close_order_id, short_open_fee, short_close_fee,
			short_sl_price, short_sl_order_id, short_tp_price, short_tp_order_id,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33,
			$34, $35, NOW()
		)`

	_, err := s.pool.Exec(ctx, query, positionArgs(p)...)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			user_id = $2, symbol = $3, status = $4, cond_status = $5,
			failure_reason = $6, close_reason = $7,
			long_exchange = $8, long_entry_price = $9, long_exit_price = $10,
			long_size = $11, long_leverage = $12,
			long_open_order_id = $13, long_close_order_id = $14,
			long_open_fee = $15, long_close_fee = $16,
			long_sl_price = $17, long_sl_order_id = $18,
			long_tp_price = $19, long_tp_order_id = $20,
			short_exchange = $21, short_entry_price = $22, short_exit_price = $23,
			short_size = $24, short_leverage = $25,
			short_open_order_id = $26, short_close_order_id = $27,
			short_open_fee = $28, short_close_fee = $29,
			short_sl_price = $30, short_sl_order_id = $31,
			short_tp_price = $32, short_tp_order_id = $33,
			opened_at = $34, closed_at = $35,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, positionArgs(p)...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all open positions for the given user.
func (s *PositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListByStatus returns positions in the given status with pagination and
// optional time filtering on opened_at.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by status: %w", err)
	}
	return positions, nil
}

// FindByConditionalOrderID resolves the open position and leg whose armed
// stop-loss or take-profit matches the given exchange order id.
func (s *PositionStore) FindByConditionalOrderID(ctx context.Context, orderID string) (domain.Position, domain.LegSide, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' AND (
			long_sl_order_id = $1 OR long_tp_order_id = $1 OR
			short_sl_order_id = $1 OR short_tp_order_id = $1
		 )`, orderID)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, "", domain.ErrNotFound
		}
		return domain.Position{}, "", fmt.Errorf("postgres: find position by conditional %s: %w", orderID, err)
	}

	side := domain.LegLong
	if p.Short.StopLoss.OrderID == orderID || p.Short.TakeProfit.OrderID == orderID {
		side = domain.LegShort
	}
	return p, side, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)

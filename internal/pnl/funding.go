package pnl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// FundingService pulls funding payment history from both legs of a position
// and accumulates it in the funding store. Sync is idempotent: payments carry
// the exchange's ledger id and the store deduplicates on it.
type FundingService struct {
	store  domain.FundingStore
	logger *slog.Logger
}

func NewFundingService(store domain.FundingStore, logger *slog.Logger) *FundingService {
	return &FundingService{store: store, logger: logger.With("component", "funding")}
}

// Sync fetches new funding payments for both legs since the last recorded
// payment and persists them. A failure on one leg does not block the other;
// the first error is returned after both legs are attempted.
func (s *FundingService) Sync(ctx context.Context, pos *domain.Position, sessions map[domain.LegSide]domain.TradingSession) error {
	var firstErr error
	for _, side := range []domain.LegSide{domain.LegLong, domain.LegShort} {
		sess, ok := sessions[side]
		if !ok {
			continue
		}
		if err := s.syncLeg(ctx, pos, side, sess); err != nil {
			s.logger.Warn("funding sync failed",
				"position_id", pos.ID,
				"exchange", sess.Exchange(),
				"side", side,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *FundingService) syncLeg(ctx context.Context, pos *domain.Position, side domain.LegSide, sess domain.TradingSession) error {
	since, err := s.store.LastPaidAt(ctx, pos.ID, side)
	if err != nil {
		return fmt.Errorf("last paid at: %w", err)
	}
	if since.IsZero() {
		since = pos.OpenedAt
	}

	payments, err := sess.FetchFundingPayments(ctx, pos.Symbol, since.Add(time.Millisecond))
	if err != nil {
		return fmt.Errorf("fetch funding payments: %w", err)
	}
	if len(payments) == 0 {
		return nil
	}

	for i := range payments {
		payments[i].PositionID = pos.ID
		payments[i].UserID = pos.UserID
		payments[i].Exchange = sess.Exchange()
		payments[i].Side = side
	}
	if err := s.store.InsertBatch(ctx, payments); err != nil {
		return fmt.Errorf("insert funding payments: %w", err)
	}

	s.logger.Debug("funding payments recorded",
		"position_id", pos.ID,
		"exchange", sess.Exchange(),
		"side", side,
		"count", len(payments))
	return nil
}

// TotalForPosition returns the signed funding P&L accumulated so far.
func (s *FundingService) TotalForPosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	return s.store.SumForPosition(ctx, positionID)
}

package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Positions are never deleted; terminal
// states are retained for audit and reporting.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, userID string) ([]Position, error)
	ListByStatus(ctx context.Context, status PositionStatus, opts ListOpts) ([]Position, error)
	// FindByConditionalOrderID resolves the open position (and leg side) that
	// armed the given stop-loss/take-profit order id.
	FindByConditionalOrderID(ctx context.Context, orderID string) (Position, LegSide, error)
}

// TradeStore persists immutable settlement records.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	GetByPositionID(ctx context.Context, positionID string) (Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// FundingStore persists funding payments per position leg.
type FundingStore interface {
	InsertBatch(ctx context.Context, payments []FundingPayment) error
	SumForPosition(ctx context.Context, positionID string) (decimal.Decimal, error)
	LastPaidAt(ctx context.Context, positionID string, side LegSide) (time.Time, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// LockStore is the external mutex store. SetIfNotExists returns false when a
// live lock already exists; DeleteIfMatches deletes the key only when the
// stored token matches, so a lock is never released by a party that no
// longer holds it.
type LockStore interface {
	SetIfNotExists(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	DeleteIfMatches(ctx context.Context, key, token string) (bool, error)
}

// LockContext identifies one held lock. The token must match at release time.
type LockContext struct {
	Key        string
	Token      string
	AcquiredAt time.Time
}

// Held reports whether the context represents a real stored lock. A zero
// token means the lock store was unavailable and the service degraded to its
// documented no-op fallback.
func (lc LockContext) Held() bool { return lc.Token != "" }

// StreamMessage is a single durable message read from the signal bus stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes saga lifecycle events and receives open/close commands.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter stores an archive object.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

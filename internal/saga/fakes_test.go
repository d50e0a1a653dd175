package saga

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/exchange"
	"github.com/fundingarb/basisbot/internal/lock"
	"github.com/fundingarb/basisbot/internal/metrics"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

// orderCall records one market order submission.
type orderCall struct {
	Symbol string
	Side   domain.Side
	Qty    decimal.Decimal
	Params domain.OrderParams
}

// scriptedSession is a domain.TradingSession whose CreateMarketOrder behavior
// is scripted per call.
type scriptedSession struct {
	name string

	mu     sync.Mutex
	orders []orderCall
	// create is invoked with the 1-based call number.
	create func(call int, side domain.Side) (domain.OrderAck, error)

	balance   decimal.Decimal
	markPrice decimal.Decimal
	hedge     bool

	fetchOrderAck domain.OrderAck
	fetchOrderErr error
	fills         []domain.Fill

	condPlaced []domain.ConditionalRequest
	condErr    error
	cancelled  []string

	fundingPayments []domain.FundingPayment
}

func (s *scriptedSession) Exchange() string { return s.name }

func (s *scriptedSession) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *scriptedSession) CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	s.mu.Lock()
	s.orders = append(s.orders, orderCall{Symbol: symbol, Side: side, Qty: qty, Params: params})
	call := len(s.orders)
	s.mu.Unlock()
	if s.create == nil {
		return domain.OrderAck{ID: "ord", Symbol: symbol, Side: side, FilledQty: qty}, nil
	}
	return s.create(call, side)
}

func (s *scriptedSession) FetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	return s.fetchOrderAck, s.fetchOrderErr
}

func (s *scriptedSession) FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	return s.fills, nil
}

func (s *scriptedSession) FetchAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return s.balance, nil
}

func (s *scriptedSession) FetchMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.markPrice, nil
}

func (s *scriptedSession) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	return map[string]domain.Market{}, nil
}

func (s *scriptedSession) FetchPositionMode(ctx context.Context) (bool, error) {
	return s.hedge, nil
}

func (s *scriptedSession) FetchAccountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return domain.AccountConfig{HedgeMode: s.hedge}, nil
}

func (s *scriptedSession) PlaceConditionalOrder(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.condErr != nil {
		return "", s.condErr
	}
	s.condPlaced = append(s.condPlaced, req)
	return "cond-" + s.name, nil
}

func (s *scriptedSession) CancelConditionalOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, orderID)
	return true, nil
}

func (s *scriptedSession) ListConditionalOrders(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	return nil, nil
}

func (s *scriptedSession) FetchFundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	return s.fundingPayments, nil
}

// fill returns an ack carrying a resolved average price.
func fill(id, symbol string, side domain.Side, price, qty, fee string) (domain.OrderAck, error) {
	return domain.OrderAck{
		ID: id, Symbol: symbol, Side: side,
		AveragePrice: d(price), FilledQty: d(qty), Fee: d(fee),
	}, nil
}

// fakeTraderBuilder assembles real exchange.Trader values over scripted
// sessions, keyed by exchange name.
type fakeTraderBuilder struct {
	sessions map[string]*scriptedSession
	errs     map[string]error
}

func (b *fakeTraderBuilder) Build(ctx context.Context, userID, exchangeName, symbol string) (*exchange.Trader, error) {
	if err, ok := b.errs[exchangeName]; ok {
		return nil, err
	}
	sess, ok := b.sessions[exchangeName]
	if !ok {
		return nil, domain.ErrAPIKeyNotFound
	}
	variant, err := exchange.NewRegistry().Lookup(exchangeName)
	if err != nil {
		return nil, err
	}
	mode := domain.AccountMode{HedgeMode: sess.hedge, MarginVariant: domain.MarginStandard}
	market := domain.Market{Symbol: symbol, PricePrecision: 2, AmountPrecision: 4}
	return &exchange.Trader{
		Session:     sess,
		Variant:     variant,
		Mode:        mode,
		Market:      market,
		Conditional: variant.ConditionalAdapter(sess, market, mode),
	}, nil
}

// memPositionStore is an in-memory domain.PositionStore.
type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	updates   []domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (s *memPositionStore) Create(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[p.ID] = p
	return nil
}

func (s *memPositionStore) Update(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[p.ID] = p
	s.updates = append(s.updates, p)
	return nil
}

func (s *memPositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositionStore) FindByConditionalOrderID(ctx context.Context, orderID string) (domain.Position, domain.LegSide, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		for _, side := range []domain.LegSide{domain.LegLong, domain.LegShort} {
			leg := p.Leg(side)
			if leg.StopLoss.OrderID == orderID || leg.TakeProfit.OrderID == orderID {
				return p, side, nil
			}
		}
	}
	return domain.Position{}, "", domain.ErrNotFound
}

func (s *memPositionStore) get(id string) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[id]
}

// memTradeStore is an in-memory domain.TradeStore.
type memTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *memTradeStore) Create(ctx context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTradeStore) GetByPositionID(ctx context.Context, positionID string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.PositionID == positionID {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (s *memTradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.trades, nil
}

func (s *memTradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

// memLockStore mirrors the Redis lock store semantics in memory.
type memLockStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemLockStore() *memLockStore {
	return &memLockStore{vals: make(map[string]string)}
}

func (m *memLockStore) SetIfNotExists(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = token
	return true, nil
}

func (m *memLockStore) DeleteIfMatches(ctx context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals[key] != token {
		return false, nil
	}
	delete(m.vals, key)
	return true, nil
}

func (m *memLockStore) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vals[key]
	return ok
}

// eventRecorder captures sink calls.
type eventRecorder struct {
	mu        sync.Mutex
	opened    []domain.Position
	closed    []domain.Position
	failed    []error
	unhedged  []error
	condFails []error
}

func (r *eventRecorder) PositionOpened(_ context.Context, pos domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, pos)
}

func (r *eventRecorder) PositionClosed(_ context.Context, pos domain.Position, _ domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, pos)
}

func (r *eventRecorder) PositionFailed(_ context.Context, _ domain.Position, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *eventRecorder) UnhedgedExposure(_ context.Context, _ domain.Position, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhedged = append(r.unhedged, err)
}

func (r *eventRecorder) ConditionalFailed(_ context.Context, _ domain.Position, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.condFails = append(r.condFails, err)
}

func testLockService() (*lock.Service, *memLockStore) {
	store := newMemLockStore()
	return lock.NewService(store, testLogger()), store
}

func fastConfig() Config {
	return Config{
		LegTimeout:         200 * time.Millisecond,
		CompensationDelays: []time.Duration{0, time.Millisecond, time.Millisecond},
		PriceFetchWait:     time.Millisecond,
	}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePositionStore struct {
	positions map[string]domain.Position
}

func (s *fakePositionStore) Create(ctx context.Context, pos domain.Position) error { return nil }
func (s *fakePositionStore) Update(ctx context.Context, pos domain.Position) error { return nil }

func (s *fakePositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) FindByConditionalOrderID(ctx context.Context, orderID string) (domain.Position, domain.LegSide, error) {
	return domain.Position{}, "", domain.ErrNotFound
}

type fakeStreamBus struct {
	appended [][]byte
	err      error
}

func (b *fakeStreamBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (b *fakeStreamBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeStreamBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.appended = append(b.appended, payload)
	return nil
}

func (b *fakeStreamBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHealthCheckDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheckFunc{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["postgres"])
	assert.Contains(t, deps["redis"], "connection refused")
}

func TestHealthCheckAllOK(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheckFunc{
		"postgres": func(ctx context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListPositionsByStatus(t *testing.T) {
	store := &fakePositionStore{positions: map[string]domain.Position{
		"p1": {ID: "p1", UserID: "u1", Status: domain.PositionStatusOpen},
		"p2": {ID: "p2", UserID: "u1", Status: domain.PositionStatusClosed},
	}}
	h := NewPositionHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=closed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "p2", body.Positions[0].ID)
}

func TestListPositionsRejectsUnknownStatus(t *testing.T) {
	h := NewPositionHandler(&fakePositionStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?status=levitating", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPositionNotFound(t *testing.T) {
	h := NewPositionHandler(&fakePositionStore{positions: map[string]domain.Position{}}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.GetPosition(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandOpenEnqueues(t *testing.T) {
	bus := &fakeStreamBus{}
	h := NewCommandHandler(bus, "commands", testLogger())

	body := `{
		"user_id": "u1",
		"symbol": "BTC/USDT:USDT",
		"long_exchange": "binance",
		"short_exchange": "okx",
		"quantity": "0.25",
		"long_leverage": "3",
		"short_leverage": "3"
	}`
	rec := httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, bus.appended, 1)

	var cmd map[string]any
	require.NoError(t, json.Unmarshal(bus.appended[0], &cmd))
	assert.Equal(t, "open", cmd["action"])
	assert.Equal(t, "BTC/USDT:USDT", cmd["symbol"])
	assert.Equal(t, "0.25", cmd["quantity"])
}

func TestCommandOpenRejectsZeroQuantity(t *testing.T) {
	bus := &fakeStreamBus{}
	h := NewCommandHandler(bus, "commands", testLogger())

	body := `{"user_id": "u1", "symbol": "BTC/USDT:USDT", "long_exchange": "binance", "short_exchange": "okx", "quantity": "0"}`
	rec := httptest.NewRecorder()
	h.Open(rec, httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, bus.appended)
}

func TestCommandCloseAllowsEmptyBody(t *testing.T) {
	bus := &fakeStreamBus{}
	h := NewCommandHandler(bus, "commands", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/positions/p1/close", nil)
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, bus.appended, 1)

	var cmd map[string]any
	require.NoError(t, json.Unmarshal(bus.appended[0], &cmd))
	assert.Equal(t, "close", cmd["action"])
	assert.Equal(t, "p1", cmd["position_id"])
}

func TestCommandCloseLegRequiresSide(t *testing.T) {
	bus := &fakeStreamBus{}
	h := NewCommandHandler(bus, "commands", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/positions/p1/close-leg",
		strings.NewReader(`{"reason": "manual"}`))
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()
	h.CloseLeg(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, bus.appended)
}

func TestCommandStreamUnavailable(t *testing.T) {
	bus := &fakeStreamBus{err: errors.New("redis down")}
	h := NewCommandHandler(bus, "commands", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/positions/p1/close", strings.NewReader(`{}`))
	req.SetPathValue("id", "p1")
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/fundingarb/basisbot/internal/domain"
)

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given store and logger.
func NewPositionHandler(positions domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions filtered by status (default open), or all
// open positions for a user when user_id is given.
// GET /api/positions?status=open&limit=50&offset=0
// GET /api/positions?user_id=u1
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		positions, err := h.positions.ListOpen(ctx, userID)
		if err != nil {
			h.logger.ErrorContext(ctx, "handler: list positions by user failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
		if positions == nil {
			positions = []domain.Position{}
		}
		writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
		return
	}

	status := domain.PositionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PositionStatusOpen
	}
	switch status {
	case domain.PositionStatusPending, domain.PositionStatusOpen, domain.PositionStatusClosing,
		domain.PositionStatusClosed, domain.PositionStatusPartial, domain.PositionStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	positions, err := h.positions.ListByStatus(ctx, status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: list positions failed",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single position by id.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

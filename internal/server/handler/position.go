package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	CreatePosition(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal, rules domain.PositionRules) (domain.PositionCreationResult, error)
	GetPositions() []domain.Position
	GetPositionByID(id int64) (domain.Position, error)
}

// RiskChecker vets a position before its order is sent.
type RiskChecker interface {
	PreCreateCheck(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	risk      RiskChecker
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. risk may be nil.
func NewPositionHandler(positions PositionService, risk RiskChecker, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		risk:      risk,
		logger:    logHandler(logger, "position"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Total     int               `json:"total"`
}

type createPositionRequest struct {
	Pair     string          `json:"pair"`
	Amount   decimal.Decimal `json:"amount"`
	StopGain *float64        `json:"stop_gain,omitempty"`
	StopLoss *float64        `json:"stop_loss,omitempty"`
}

type createPositionResponse struct {
	Successful   bool   `json:"successful"`
	PositionID   int64  `json:"position_id,omitempty"`
	OpenOrderID  string `json:"open_order_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ListPositions returns positions in creation order, optionally filtered by
// status and pair and paginated with limit/offset.
// GET /api/positions?status=OPENED&pair=ETH/BTC
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var pair *domain.CurrencyPair
	if v := q.Get("pair"); v != "" {
		p, err := domain.ParseCurrencyPair(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pair")
			return
		}
		pair = &p
	}
	status := domain.PositionStatus(q.Get("status"))

	filtered := make([]domain.Position, 0)
	for _, p := range h.positions.GetPositions() {
		if status != "" && p.Status != status {
			continue
		}
		if pair != nil && p.Pair != *pair {
			continue
		}
		filtered = append(filtered, p)
	}

	opts := parseListOpts(r)
	total := len(filtered)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: filtered[start:end],
		Total:     total,
	})
}

// GetPosition returns one position by identity.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.positions.GetPositionByID(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.Int64("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CreatePosition opens a position with a market buy. A rejected order is
// reported with 422 and the exchange's message.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := domain.ParseCurrencyPair(req.Pair)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pair")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	rules := domain.PositionRules{
		StopGainPercentage: req.StopGain,
		StopLossPercentage: req.StopLoss,
	}

	if h.risk != nil {
		if err := h.risk.PreCreateCheck(r.Context(), pair, req.Amount); err != nil {
			h.logger.WarnContext(r.Context(), "handler: position blocked by risk check",
				slog.String("pair", pair.String()),
				slog.String("amount", req.Amount.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}

	res, err := h.positions.CreatePosition(r.Context(), pair, req.Amount, rules)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create position failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create position")
		return
	}

	body := createPositionResponse{
		Successful:   res.Successful,
		PositionID:   res.PositionID,
		OpenOrderID:  res.OpenOrderID,
		ErrorMessage: res.ErrorMessage,
	}
	if !res.Successful {
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

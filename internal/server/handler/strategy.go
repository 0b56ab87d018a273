package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fluxbot/internal/strategy"
)

// StrategyRuntime is the view of the strategy engine exposed over HTTP.
type StrategyRuntime interface {
	ActiveName() string
	ListNames() []string
	ListInfo() []strategy.StrategyInfo
}

// StrategyHandler serves strategy runtime endpoints.
type StrategyHandler struct {
	runtime StrategyRuntime
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(runtime StrategyRuntime, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{runtime: runtime, logger: logHandler(logger, "strategy")}
}

// ListStrategies returns every registered strategy and the counters of the
// active ones.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	active := h.runtime.ListInfo()
	if active == nil {
		active = []strategy.StrategyInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_name": h.runtime.ActiveName(),
		"registered":  h.runtime.ListNames(),
		"active":      active,
	})
}

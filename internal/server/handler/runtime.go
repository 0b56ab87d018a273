package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/flux"
)

// FluxStats returns the counters of every flux keyed by name.
type FluxStats func() map[string]flux.Stats

// ExposureFunc sums open exposure per quote currency.
type ExposureFunc func(ctx context.Context) map[domain.Currency]decimal.Decimal

// RuntimeHandler serves read-only runtime diagnostics: flux counters, risk
// exposure and the audit log.
type RuntimeHandler struct {
	fluxes   FluxStats
	exposure ExposureFunc
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewRuntimeHandler creates a RuntimeHandler. exposure and audit may be nil.
func NewRuntimeHandler(fluxes FluxStats, exposure ExposureFunc, audit domain.AuditStore, logger *slog.Logger) *RuntimeHandler {
	return &RuntimeHandler{
		fluxes:   fluxes,
		exposure: exposure,
		audit:    audit,
		logger:   logHandler(logger, "runtime"),
	}
}

// ListFluxes returns the counters of each flux.
// GET /api/fluxes
func (h *RuntimeHandler) ListFluxes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fluxes": h.fluxes()})
}

// GetExposure returns the value of open positions per quote currency.
// GET /api/risk/exposure
func (h *RuntimeHandler) GetExposure(w http.ResponseWriter, r *http.Request) {
	if h.exposure == nil {
		writeError(w, http.StatusServiceUnavailable, "risk not configured")
		return
	}
	exposure := make(map[string]string)
	for cur, v := range h.exposure(r.Context()) {
		exposure[cur.String()] = v.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"exposure": exposure})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *RuntimeHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

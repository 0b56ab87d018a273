package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves the health and status endpoints.
type HealthHandler struct {
	checks map[string]HealthCheck
	status func() domain.BotStatus
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// (postgres, redis, s3) to its check; status may be nil.
func NewHealthHandler(checks map[string]HealthCheck, status func() domain.BotStatus, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		status: status,
		logger: logHandler(logger, "health"),
	}
}

// HealthCheck responds with the state of every configured dependency. Any
// failing check turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	code := http.StatusOK
	status := "ok"
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "unavailable"
			code = http.StatusServiceUnavailable
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus responds with the bot's mode, strategy and position counts.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

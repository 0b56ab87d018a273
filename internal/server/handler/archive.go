package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// archivePrefix is the object key prefix every archive is written under.
const archivePrefix = "archive/"

// ArchiveJob runs one archive pass.
type ArchiveJob interface {
	Run(ctx context.Context) error
}

// ArchiveStore reads archive objects back.
type ArchiveStore interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler triggers the closed-position archive on demand and serves
// the archived objects.
type ArchiveHandler struct {
	job     ArchiveJob
	store   ArchiveStore
	running atomic.Bool
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. A nil job or store means
// archiving is not configured.
func NewArchiveHandler(job ArchiveJob, store ArchiveStore, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{job: job, store: store, logger: logHandler(logger, "archive")}
}

// TriggerArchive runs one archive pass and waits for it. Concurrent triggers
// are refused with 409.
// POST /api/archive
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.job == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "archive already running")
		return
	}
	defer h.running.Store(false)

	h.logger.InfoContext(r.Context(), "handler: archive trigger requested")
	started := time.Now()
	if err := h.job.Run(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive run failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive run failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "completed",
		"requested_at": started.UTC().Format(time.RFC3339),
		"duration_ms":  time.Since(started).Milliseconds(),
	})
}

// ListArchives returns every archive object, oldest key first.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	infos, err := h.store.List(r.Context(), archivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	type archiveInfo struct {
		Key          string    `json:"key"`
		Size         int64     `json:"size"`
		LastModified time.Time `json:"last_modified"`
	}
	out := make([]archiveInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveInfo{
			Key:          strings.TrimPrefix(info.Path, archivePrefix),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out, "total": len(out)})
}

// GetArchive streams one archive object as JSONL.
// GET /api/archives/{key...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	key := pathParam(r, "key")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive key")
		return
	}

	body, err := h.store.Get(r.Context(), archivePrefix+key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Package api exposes a small operational HTTP surface on the daemon:
// health, merged stats and a manual cleanup trigger. The subsystem
// itself is consumed in-process; this is tooling, not its transport.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nidhogg/memoria/internal/memory"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	mem    *memory.Memory
	logger *zap.Logger
}

// NewHandler creates a new ops handler.
func NewHandler(mem *memory.Memory, logger *zap.Logger) *Handler {
	return &Handler{mem: mem, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.getStats)
		r.Post("/cleanup", h.runCleanup)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	domain := r.URL.Query().Get("domain")

	stats, err := h.mem.Stats(r.Context(), session, domain)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, memory.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type cleanupRequest struct {
	MinSuccessRate float64 `json:"min_success_rate"`
	MinUsageCount  int     `json:"min_usage_count"`
}

func (h *Handler) runCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	res, err := h.mem.Cleanup(r.Context(), memory.CleanupOptions{
		MinSuccessRate: req.MinSuccessRate,
		MinUsageCount:  req.MinUsageCount,
	})
	if err != nil {
		h.logger.Warn("manual cleanup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/arbor-ai/arbor/internal/persist"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	storage persist.Store
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(storage persist.Store) *HealthHandler {
	return &HealthHandler{storage: storage}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready — readiness means the snapshot store answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.storage.GetAll(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arbor-ai/arbor/internal/middleware"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/pkg/logger"
)

// BranchHandler handles branch endpoints.
type BranchHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewBranchHandler creates a new branch handler.
func NewBranchHandler(st *store.Store, log *logger.Logger) *BranchHandler {
	return &BranchHandler{store: st, logger: log}
}

type createBranchRequest struct {
	FromMessageID string `json:"from_message_id"`
}

// Create handles POST /api/v1/conversations/:id/branches
func (h *BranchHandler) Create(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req createBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateID(req.FromMessageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	branch, err := h.store.CreateBranch(conversationID, req.FromMessageID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

// Delete handles DELETE /api/v1/conversations/:id/branches/:branchID
func (h *BranchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	branchID := chi.URLParam(r, "branchID")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateID(branchID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.DeleteBranch(conversationID, branchID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleCollapse handles POST /api/v1/conversations/:id/branches/:branchID/collapse
func (h *BranchHandler) ToggleCollapse(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	branchID := chi.URLParam(r, "branchID")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateID(branchID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.ToggleBranchCollapse(conversationID, branchID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Open handles POST /api/v1/conversations/:id/branches/:branchID/open
func (h *BranchHandler) Open(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	if err := middleware.ValidateID(branchID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.store.OpenBranch(branchID)
	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /api/v1/conversations/:id/branches/:branchID/close
func (h *BranchHandler) Close(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	if err := middleware.ValidateID(branchID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.store.CloseBranch(branchID)
	w.WriteHeader(http.StatusNoContent)
}

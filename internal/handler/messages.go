package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arbor-ai/arbor/internal/middleware"
	"github.com/arbor-ai/arbor/internal/model"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/pkg/logger"
)

// MessageHandler handles non-streaming message endpoints.
type MessageHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st *store.Store, log *logger.Logger) *MessageHandler {
	return &MessageHandler{store: st, logger: log}
}

type addMessageRequest struct {
	Content     string             `json:"content"`
	Role        model.Role         `json:"role"`
	BranchID    string             `json:"branch_id,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// Add handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Add(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role != model.RoleUser && req.Role != model.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	var (
		msg *model.Message
		err error
	)
	if req.BranchID != "" {
		msg, err = h.store.AddMessageToBranch(conversationID, req.BranchID, req.Role, req.Content, req.Attachments)
	} else {
		msg, err = h.store.AddMessage(conversationID, req.Role, req.Content, req.Attachments)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content  string `json:"content"`
	BranchID string `json:"branch_id,omitempty"`
}

// Edit handles PUT /api/v1/conversations/:id/messages/:messageID
//
// Editing truncates: every message after the edited one in the same timeline
// is dropped. This is destructive and non-reversible.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.EditMessage(conversationID, messageID, req.Content, req.BranchID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

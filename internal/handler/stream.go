package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arbor-ai/arbor/internal/middleware"
	"github.com/arbor-ai/arbor/internal/model"
	"github.com/arbor-ai/arbor/internal/service"
	"github.com/arbor-ai/arbor/pkg/logger"
	"github.com/arbor-ai/arbor/pkg/metrics"
)

const heartbeatInterval = 30 * time.Second

// ChatSender is the send/cancel surface the stream handler drives.
type ChatSender interface {
	Send(ctx context.Context, req *service.SendRequest, onToken service.TokenFunc) (*model.Message, error)
	Cancel(timelineID string)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	chat      ChatSender
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(chat ChatSender, log *logger.Logger) *StreamHandler {
	return &StreamHandler{chat: chat, heartbeat: heartbeatInterval, logger: log}
}

type sendRequest struct {
	Content     string             `json:"content"`
	BranchID    string             `json:"branch_id,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	WebSearch   bool               `json:"web_search,omitempty"`
}

// Send handles POST /api/v1/conversations/:id/stream
//
// The user message is appended, the assistant response streams back as SSE
// token events, and a message_complete event carries the final message.
// Heartbeat events keep the connection alive through retry backoff pauses.
func (h *StreamHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	// Events come from both the send callback and the heartbeat ticker.
	var wmu sync.Mutex
	emit := func(event string, data interface{}) error {
		wmu.Lock()
		defer wmu.Unlock()
		return sendSSEEvent(w, flusher, event, data)
	}

	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit("heartbeat", &model.HeartbeatEvent{Timestamp: time.Now()})
			}
		}
	}()
	defer func() {
		close(stopHeartbeat)
		<-heartbeatDone
	}()

	index := 0
	assistant, err := h.chat.Send(ctx, &service.SendRequest{
		ConversationID: conversationID,
		BranchID:       req.BranchID,
		Content:        req.Content,
		Attachments:    req.Attachments,
		WebSearch:      req.WebSearch,
	}, func(token string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := emit("token", &model.TokenEvent{Token: token, Index: index})
		index++
		return err
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		emit("error", &model.ErrorEvent{
			Code:    "stream_error",
			Message: err.Error(),
		})
		return
	}

	emit("message_complete", &model.MessageCompleteEvent{Message: *assistant})
	emit("done", map[string]bool{"success": true})
}

// Cancel handles DELETE /api/v1/conversations/:id/stream
//
// An optional branch_id query parameter targets a branch timeline.
func (h *StreamHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	timelineID := conversationID
	if branchID := r.URL.Query().Get("branch_id"); branchID != "" {
		timelineID = branchID
	}
	h.chat.Cancel(timelineID)
	w.WriteHeader(http.StatusNoContent)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

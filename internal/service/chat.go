// Package service provides the send flow: store mutation, provider
// streaming, throttled content updates and cancellation.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/model"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/internal/stream"
	"github.com/arbor-ai/arbor/pkg/logger"
)

// errPlaceholder is written into the timeline when a send fails for good, so
// the timeline is never left in an ambiguous half-written state.
const errPlaceholder = "Error: Failed to get response"

// TokenFunc relays a partial token to the presentation layer.
type TokenFunc func(token string) error

// SendRequest describes one send to a conversation's main sequence or, when
// BranchID is set, to one of its branches.
type SendRequest struct {
	ConversationID string
	BranchID       string
	Content        string
	Attachments    []model.Attachment
	WebSearch      bool
}

// ChatService drives a full send: user message, assistant placeholder,
// provider stream, throttled content rewrites, terminal error placeholder.
type ChatService struct {
	store            *store.Store
	orchestrator     *stream.Orchestrator
	cancels          *stream.CancelRegistry
	throttleInterval time.Duration
	logger           *logger.Logger
}

// NewChatService creates a chat service.
func NewChatService(st *store.Store, orch *stream.Orchestrator, throttleInterval time.Duration, log *logger.Logger) *ChatService {
	return &ChatService{
		store:            st,
		orchestrator:     orch,
		cancels:          stream.NewCancelRegistry(),
		throttleInterval: throttleInterval,
		logger:           log,
	}
}

// Cancel aborts the in-flight stream for a timeline.
func (s *ChatService) Cancel(timelineID string) {
	s.cancels.Cancel(timelineID)
}

// Send appends the user message, streams the assistant response into the
// timeline and returns the completed assistant message. A new send to a
// timeline that already has one in flight cancels the prior stream; sends to
// different timelines proceed concurrently.
func (s *ChatService) Send(ctx context.Context, req *SendRequest, onToken TokenFunc) (*model.Message, error) {
	timelineID := req.ConversationID
	if req.BranchID != "" {
		timelineID = req.BranchID
	}
	streamCtx, release := s.cancels.Begin(ctx, timelineID)
	defer release()

	if _, err := s.addMessage(req, model.RoleUser, req.Content, req.Attachments); err != nil {
		return nil, err
	}

	history, modelName, err := s.buildHistory(req.ConversationID, req.BranchID)
	if err != nil {
		return nil, err
	}

	assistant, err := s.addMessage(req, model.RoleAssistant, "", nil)
	if err != nil {
		return nil, err
	}

	throttler := stream.NewThrottler(s.throttleInterval, func(text string) {
		if streamCtx.Err() != nil {
			return
		}
		if err := s.updateContent(req, assistant.ID, text); err != nil {
			s.logger.Warn("failed to update streamed content",
				zap.String("message_id", assistant.ID),
				zap.Error(err),
			)
		}
	})

	// Resetting on each attempt keeps a retried stream from appending its
	// replayed prefix to the failed attempt's partial text.
	opts := stream.Options{WebSearch: req.WebSearch, OnAttempt: throttler.Reset}

	err = s.orchestrator.StreamChatMessage(streamCtx, history, modelName, opts, func(text string, final bool) error {
		if streamCtx.Err() != nil {
			return streamCtx.Err()
		}
		if final {
			throttler.Final()
			return nil
		}
		throttler.Write(text)
		if onToken != nil {
			return onToken(text)
		}
		return nil
	})

	if err != nil {
		// A cancelled stream must not mutate state after cancellation.
		if errors.Is(streamCtx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		s.logger.Error("send failed",
			zap.String("conversation_id", req.ConversationID),
			zap.String("branch_id", req.BranchID),
			zap.Error(err),
		)
		if uerr := s.updateContent(req, assistant.ID, errPlaceholder); uerr != nil {
			s.logger.Warn("failed to write error placeholder", zap.Error(uerr))
		}
		return nil, err
	}

	assistant.Content = throttler.Text()
	return assistant, nil
}

func (s *ChatService) addMessage(req *SendRequest, role model.Role, content string, attachments []model.Attachment) (*model.Message, error) {
	if req.BranchID != "" {
		return s.store.AddMessageToBranch(req.ConversationID, req.BranchID, role, content, attachments)
	}
	return s.store.AddMessage(req.ConversationID, role, content, attachments)
}

func (s *ChatService) updateContent(req *SendRequest, messageID, content string) error {
	if req.BranchID != "" {
		return s.store.UpdateBranchMessageContent(req.ConversationID, req.BranchID, messageID, content)
	}
	return s.store.UpdateMessageContent(req.ConversationID, messageID, content)
}

// buildHistory assembles the canonical request messages for a timeline. A
// branch is prefixed by the parent timeline up to and including its root
// message, then its own sequence.
func (s *ChatService) buildHistory(conversationID, branchID string) ([]llm.ChatMessage, string, error) {
	conv, err := s.store.Get(conversationID)
	if err != nil {
		return nil, "", err
	}

	modelName := conv.Model
	var msgs []model.Message

	if branchID == "" {
		msgs = conv.Messages
	} else {
		branch := conv.Branch(branchID)
		if branch == nil {
			return nil, "", store.ErrNotFound
		}
		for i := range conv.Messages {
			msgs = append(msgs, conv.Messages[i])
			if conv.Messages[i].ID == branch.RootMessageID {
				break
			}
		}
		msgs = append(msgs, branch.Messages...)
		if branch.Model != nil && *branch.Model != "" {
			modelName = *branch.Model
		} else {
			modelName = s.store.SelectedModel()
		}
	}

	history := make([]llm.ChatMessage, 0, len(msgs))
	for i := range msgs {
		cm := llm.ChatMessage{
			Role:    string(msgs[i].Role),
			Content: msgs[i].Content,
		}
		for _, att := range msgs[i].Attachments {
			cm.Attachments = append(cm.Attachments, llm.ResolvedAttachment{Attachment: att})
		}
		history = append(history, cm)
	}
	return history, modelName, nil
}

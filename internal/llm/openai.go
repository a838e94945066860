package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/pkg/logger"
)

var openaiMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
}

// OpenAIClient is the OpenAI adapter.
type OpenAIClient struct {
	client *openai.Client
	logger *logger.Logger
}

// NewOpenAIClient creates a new OpenAI adapter.
func NewOpenAIClient(apiKey string, log *logger.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		logger: log,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() Provider {
	return ProviderOpenAI
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-3.5-turbo",
	}
}

// MimeTypes returns supported attachment MIME types.
func (c *OpenAIClient) MimeTypes() []string {
	return openaiMimeTypes
}

// SupportsAttachments reports inline attachment support.
func (c *OpenAIClient) SupportsAttachments() bool {
	return true
}

// Stream sends a streaming chat completion request and relays text deltas.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) error {
	// go-openai v1.20.4 has no web-search option on chat completions, so
	// search requests degrade to a plain send.
	if req.WebSearch {
		c.logger.Warn("web search not supported by the openai adapter, continuing without it")
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = c.chatMessage(msg)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   defaultMaxTokens(req.MaxTokens),
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	emitted := false
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		emitted = true
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	if !emitted {
		return ErrEmptyResponse
	}
	return nil
}

// chatMessage builds the vendor message, using multi-part content when
// resolved image attachments are present.
func (c *OpenAIClient) chatMessage(msg ChatMessage) openai.ChatCompletionMessage {
	var parts []openai.ChatMessagePart
	for _, att := range msg.Attachments {
		if att.Data == "" {
			c.logger.Warn("skipping unresolved attachment", zap.String("attachment_id", att.ID))
			continue
		}
		if !mimeSupported(att.MimeType, openaiMimeTypes) {
			c.logger.Warn("skipping unsupported attachment type",
				zap.String("attachment_id", att.ID),
				zap.String("mime_type", att.MimeType),
			)
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", att.MimeType, att.Data),
			},
		})
	}

	if len(parts) == 0 {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	parts = append([]openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: msg.Content,
	}}, parts...)
	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
}

package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/pkg/logger"
)

var anthropicMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
}

// AnthropicClient is the Anthropic adapter.
type AnthropicClient struct {
	client *anthropic.Client
	logger *logger.Logger
}

// NewAnthropicClient creates a new Anthropic adapter.
func NewAnthropicClient(apiKey string, log *logger.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: log,
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() Provider {
	return ProviderAnthropic
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
	}
}

// MimeTypes returns supported attachment MIME types.
func (c *AnthropicClient) MimeTypes() []string {
	return anthropicMimeTypes
}

// SupportsAttachments reports inline attachment support.
func (c *AnthropicClient) SupportsAttachments() bool {
	return true
}

// Stream sends a streaming message request and relays text deltas.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) error {
	// anthropic-sdk-go v0.2.0-alpha.13 predates the server-side web_search
	// tool, so search requests degrade to a plain send.
	if req.WebSearch {
		c.logger.Warn("web search not supported by the anthropic adapter, continuing without it")
	}

	messages := make([]anthropic.MessageParam, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = anthropic.MessageParam{
			Role:    anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F(c.contentBlocks(msg)),
		}
	}

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(req.Model),
		MaxTokens: anthropic.F(int64(defaultMaxTokens(req.MaxTokens))),
		Messages:  anthropic.F(messages),
	})

	emitted := false
	for stream.Next() {
		event := stream.Current()
		if event.Type != anthropic.MessageStreamEventTypeContentBlockDelta {
			continue
		}
		delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta)
		if !ok || delta.Type != "text_delta" || delta.Text == "" {
			continue
		}
		emitted = true
		if err := onDelta(delta.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	if !emitted {
		return ErrEmptyResponse
	}
	return nil
}

// contentBlocks interleaves text and resolved image attachments. Attachments
// whose bytes failed to resolve, and kinds this vendor cannot take inline,
// are skipped with a warning.
func (c *AnthropicClient) contentBlocks(msg ChatMessage) []anthropic.ContentBlockParamUnion {
	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.TextBlockParam{
			Type: anthropic.F(anthropic.TextBlockParamTypeText),
			Text: anthropic.F(msg.Content),
		},
	}
	for _, att := range msg.Attachments {
		if att.Data == "" {
			c.logger.Warn("skipping unresolved attachment", zap.String("attachment_id", att.ID))
			continue
		}
		if !mimeSupported(att.MimeType, anthropicMimeTypes) {
			c.logger.Warn("skipping unsupported attachment type",
				zap.String("attachment_id", att.ID),
				zap.String("mime_type", att.MimeType),
			)
			continue
		}
		blocks = append(blocks, anthropic.ImageBlockParam{
			Type: anthropic.F(anthropic.ImageBlockParamTypeImage),
			Source: anthropic.F[anthropic.ImageBlockParamSourceUnion](anthropic.ImageBlockParamSource{
				Type:      anthropic.F(anthropic.ImageBlockParamSourceTypeBase64),
				MediaType: anthropic.F(anthropic.ImageBlockParamSourceMediaType(att.MimeType)),
				Data:      anthropic.F(att.Data),
			}),
		})
	}
	return blocks
}

func mimeSupported(mime string, supported []string) bool {
	for _, m := range supported {
		if m == mime {
			return true
		}
	}
	return false
}

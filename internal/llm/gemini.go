package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"go.uber.org/zap"
	genai "google.golang.org/genai"

	"github.com/arbor-ai/arbor/pkg/logger"
)

var geminiMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"application/pdf", "text/plain",
}

// GeminiClient is the Google Gemini adapter. It is the one adapter with a
// real web-search tool; grounding metadata is mapped into canonical
// citations and appended as the sources footer.
type GeminiClient struct {
	apiKey string
	logger *logger.Logger
}

// NewGeminiClient creates a new Gemini adapter.
func NewGeminiClient(apiKey string, log *logger.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	return &GeminiClient{apiKey: apiKey, logger: log}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() Provider {
	return ProviderGemini
}

// Models returns available models.
func (c *GeminiClient) Models() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
}

// MimeTypes returns supported attachment MIME types.
func (c *GeminiClient) MimeTypes() []string {
	return geminiMimeTypes
}

// SupportsAttachments reports inline attachment support.
func (c *GeminiClient) SupportsAttachments() bool {
	return true
}

// Stream sends a streaming generate-content request and relays text deltas,
// appending the deduplicated citation footer as the last delta.
func (c *GeminiClient) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return err
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		contents = append(contents, c.content(msg))
	}

	var config *genai.GenerateContentConfig
	if req.WebSearch {
		config = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	}

	citations := NewCitationCollector()
	emitted := false

	for chunk, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		collectGroundingCitations(chunk, citations)
		delta := chunk.Text()
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
	if footer := citations.Footer(); footer != "" {
		return onDelta(footer)
	}
	return nil
}

func (c *GeminiClient) content(msg ChatMessage) *genai.Content {
	role := genai.RoleUser
	if msg.Role == "assistant" {
		role = genai.RoleModel
	}
	parts := []*genai.Part{genai.NewPartFromText(msg.Content)}
	for _, att := range msg.Attachments {
		if att.Data == "" {
			c.logger.Warn("skipping unresolved attachment", zap.String("attachment_id", att.ID))
			continue
		}
		if !mimeSupported(att.MimeType, geminiMimeTypes) {
			c.logger.Warn("skipping unsupported attachment type",
				zap.String("attachment_id", att.ID),
				zap.String("mime_type", att.MimeType),
			)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			c.logger.Warn("skipping undecodable attachment payload",
				zap.String("attachment_id", att.ID),
				zap.Error(err),
			)
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(raw, att.MimeType))
	}
	return genai.NewContentFromParts(parts, genai.Role(role))
}

func collectGroundingCitations(resp *genai.GenerateContentResponse, citations *CitationCollector) {
	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			citations.Add(chunk.Web.URI, chunk.Web.Title)
		}
	}
}

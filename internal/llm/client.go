// Package llm provides the provider-agnostic streaming contract and the
// per-vendor adapters behind it.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/arbor-ai/arbor/internal/model"
)

// Provider identifies an LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// ErrEmptyResponse is raised when a provider stream completes without
// emitting any text. It is transient for retry purposes.
var ErrEmptyResponse = emptyResponseError{}

type emptyResponseError struct{}

func (emptyResponseError) Error() string   { return "empty response from provider" }
func (emptyResponseError) Retryable() bool { return true }

// ConfigError signals a missing credential for a requested provider. It is
// fatal and must never be retried.
type ConfigError struct {
	Provider Provider
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no credential configured for provider %q", e.Provider)
}

func (e *ConfigError) Retryable() bool { return false }

// IsConfigError reports whether err is a credential configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ResolvedAttachment is an attachment reference plus its payload, hydrated
// from the blob store. Data is empty when resolution failed; adapters skip
// such attachments with a warning and never abort the message.
type ResolvedAttachment struct {
	model.Attachment
	Data string // base64 payload
}

// ChatMessage is the canonical request message shape.
type ChatMessage struct {
	Role        string
	Content     string
	Attachments []ResolvedAttachment
}

// Request is the canonical chat request handed to any adapter.
type Request struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	WebSearch   bool
}

// DeltaFunc receives partial text during a stream. Returning an error stops
// the stream.
type DeltaFunc func(text string) error

// Client is the adapter contract every vendor implements. Stream emits
// partial text through onDelta, appends the citation footer (when any) as a
// final delta, and returns ErrEmptyResponse when no text was produced.
type Client interface {
	Name() Provider
	Models() []string
	MimeTypes() []string
	SupportsAttachments() bool
	Stream(ctx context.Context, req *Request, onDelta DeltaFunc) error
}

// Catalog lists every model known across the provider set, used for branch
// model selection.
func Catalog() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-3.5-turbo",
		"gemini-2.0-flash",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	}
}

func defaultMaxTokens(n int) int {
	if n == 0 {
		return 4096
	}
	return n
}

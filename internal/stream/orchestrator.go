// Package stream orchestrates provider streaming: adapter resolution,
// attachment hydration, retry, cancellation and throttled state updates.
package stream

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbor-ai/arbor/internal/blob"
	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/retry"
	"github.com/arbor-ai/arbor/pkg/logger"
	"github.com/arbor-ai/arbor/pkg/metrics"
)

// ChunkHandler is the caller-facing chunk contract: zero or more calls with
// non-final partial text, then exactly one call with final=true and an empty
// payload. The final call is the sole termination signal; a cancelled stream
// simply stops calling without ever reaching it.
type ChunkHandler func(text string, final bool) error

// Options tune a single send.
type Options struct {
	MaxTokens   int
	Temperature float64
	WebSearch   bool

	// OnAttempt runs at the start of every provider attempt, the first
	// included. Callers discard partial output from a failed attempt here so
	// a retry rewrites instead of appending.
	OnAttempt func()
}

// Orchestrator is the single entry point for provider streaming.
type Orchestrator struct {
	registry *llm.Registry
	blobs    blob.Store
	timeout  time.Duration
	retryCfg retry.Config
	logger   *logger.Logger
}

// NewOrchestrator creates an orchestrator. timeout bounds each individual
// provider call; a timed-out call enters the retry path as a network-class
// failure.
func NewOrchestrator(registry *llm.Registry, blobs blob.Store, timeout time.Duration, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		blobs:    blobs,
		timeout:  timeout,
		retryCfg: retry.DefaultConfig,
		logger:   log,
	}
}

// WithRetryConfig overrides the retry policy, for tests.
func (o *Orchestrator) WithRetryConfig(cfg retry.Config) *Orchestrator {
	o.retryCfg = cfg
	return o
}

// StreamChatMessage resolves the adapter for the model, hydrates attachment
// payloads, and streams the response through onChunk with automatic retry.
func (o *Orchestrator) StreamChatMessage(ctx context.Context, messages []llm.ChatMessage, modelName string, opts Options, onChunk ChunkHandler) error {
	client, err := o.registry.ClientForModel(modelName)
	if err != nil {
		return err
	}

	o.hydrateAttachments(ctx, messages)

	req := &llm.Request{
		Model:       modelName,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		WebSearch:   opts.WebSearch,
	}

	provider := string(client.Name())
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()
	start := time.Now()

	_, err = retry.WithRetryNotify(ctx, o.retryCfg, func() (struct{}, error) {
		if opts.OnAttempt != nil {
			opts.OnAttempt()
		}

		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		return struct{}{}, client.Stream(callCtx, req, func(text string) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return onChunk(text, false)
		})
	}, func(err error, next time.Duration) {
		metrics.LLMRetriesTotal.WithLabelValues(provider).Inc()
		o.logger.Warn("provider stream failed, retrying",
			zap.String("provider", provider),
			zap.String("model", modelName),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMStream(provider, modelName, status, time.Since(start).Seconds())

	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return onChunk("", true)
}

// SendChatMessage is the buffering variant: it resolves with the full
// concatenated response text.
func (o *Orchestrator) SendChatMessage(ctx context.Context, messages []llm.ChatMessage, modelName string, opts Options) (string, error) {
	var b strings.Builder
	callerAttempt := opts.OnAttempt
	opts.OnAttempt = func() {
		b.Reset()
		if callerAttempt != nil {
			callerAttempt()
		}
	}
	err := o.StreamChatMessage(ctx, messages, modelName, opts, func(text string, final bool) error {
		if !final {
			b.WriteString(text)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// hydrateAttachments loads payload bytes for every attachment reference that
// lacks them, in parallel. A failed load skips that attachment with a
// warning; it never aborts the send.
func (o *Orchestrator) hydrateAttachments(ctx context.Context, messages []llm.ChatMessage) {
	g, gctx := errgroup.WithContext(ctx)
	for mi := range messages {
		for ai := range messages[mi].Attachments {
			att := &messages[mi].Attachments[ai]
			if att.Data != "" {
				continue
			}
			g.Go(func() error {
				payload, err := o.blobs.Load(gctx, att.ID)
				if err != nil {
					o.logger.Warn("failed to resolve attachment, sending without it",
						zap.String("attachment_id", att.ID),
						zap.Error(err),
					)
					return nil
				}
				att.Data = payload
				return nil
			})
		}
	}
	_ = g.Wait()
}

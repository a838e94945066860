package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arbor-ai/arbor/internal/credential"
	"github.com/arbor-ai/arbor/pkg/logger"
)

// Factory builds an adapter for a provider. Swappable in tests.
type Factory func(provider Provider, apiKey string, log *logger.Logger) (Client, error)

func defaultFactory(provider Provider, apiKey string, log *logger.Logger) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, log)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, log)
	case ProviderGemini:
		return NewGeminiClient(apiKey, log)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// Registry caches adapter instances keyed by (provider, credential
// fingerprint) and supplies per-provider attachment metadata. It is an
// explicit object passed by reference, never ambient state; Clear resets it
// for test isolation.
type Registry struct {
	mu      sync.Mutex
	clients map[string]Client

	creds   credential.Store
	factory Factory
	logger  *logger.Logger
}

// NewRegistry creates a registry over a credential store.
func NewRegistry(creds credential.Store, log *logger.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		creds:   creds,
		factory: defaultFactory,
		logger:  log,
	}
}

// WithFactory swaps the adapter factory, for tests.
func (r *Registry) WithFactory(f Factory) *Registry {
	r.factory = f
	return r
}

// ClientForModel resolves the adapter serving the given model, constructing
// and caching it on first use. A missing credential is a ConfigError.
func (r *Registry) ClientForModel(modelName string) (Client, error) {
	provider := ProviderForModel(modelName)
	secret := r.creds.Get(string(provider))
	if secret == "" {
		return nil, &ConfigError{Provider: provider}
	}

	key := string(provider) + ":" + credential.Fingerprint(secret)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := r.factory(provider, secret, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create %s adapter: %w", provider, err)
	}
	r.clients[key] = c
	return c, nil
}

// Clear drops every cached adapter.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.clients = make(map[string]Client)
	r.mu.Unlock()
}

// MimeTypes returns the MIME types a provider accepts as attachments.
func (r *Registry) MimeTypes(provider Provider) []string {
	switch provider {
	case ProviderAnthropic:
		return anthropicMimeTypes
	case ProviderOpenAI:
		return openaiMimeTypes
	case ProviderGemini:
		return geminiMimeTypes
	default:
		return nil
	}
}

// ProviderForModel maps a model name onto its vendor.
func ProviderForModel(modelName string) Provider {
	name := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(name, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(name, "gemini"):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/internal/credential"
	"github.com/arbor-ai/arbor/pkg/logger"
)

type stubClient struct {
	provider Provider
	apiKey   string
}

func (s *stubClient) Name() Provider            { return s.provider }
func (s *stubClient) Models() []string          { return nil }
func (s *stubClient) MimeTypes() []string       { return nil }
func (s *stubClient) SupportsAttachments() bool { return false }
func (s *stubClient) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) error {
	return nil
}

func newTestRegistry(secrets map[string]string) (*Registry, *int) {
	built := 0
	r := NewRegistry(credential.NewStaticStore(secrets), logger.NewNop())
	r.WithFactory(func(provider Provider, apiKey string, log *logger.Logger) (Client, error) {
		built++
		return &stubClient{provider: provider, apiKey: apiKey}, nil
	})
	return r, &built
}

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		model string
		want  Provider
	}{
		{"claude-3-5-sonnet-20241022", ProviderAnthropic},
		{"Claude-3-Opus-20240229", ProviderAnthropic},
		{"gemini-2.0-flash", ProviderGemini},
		{"gpt-4o", ProviderOpenAI},
		{"some-unknown-model", ProviderOpenAI},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProviderForModel(tt.model), tt.model)
	}
}

func TestRegistryCachesByCredentialFingerprint(t *testing.T) {
	r, built := newTestRegistry(map[string]string{
		string(ProviderAnthropic): "sk-ant-test",
	})

	c1, err := r.ClientForModel("claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	c2, err := r.ClientForModel("claude-3-5-haiku-20241022")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, *built)
}

func TestRegistryBuildsPerProvider(t *testing.T) {
	r, built := newTestRegistry(map[string]string{
		string(ProviderAnthropic): "sk-ant",
		string(ProviderOpenAI):    "sk-oai",
	})

	_, err := r.ClientForModel("claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	_, err = r.ClientForModel("gpt-4o")
	require.NoError(t, err)

	assert.Equal(t, 2, *built)
}

func TestRegistryMissingCredentialIsConfigError(t *testing.T) {
	r, built := newTestRegistry(map[string]string{})

	_, err := r.ClientForModel("gemini-2.0-flash")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, 0, *built)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ProviderGemini, ce.Provider)
}

func TestRegistryClearDropsCache(t *testing.T) {
	r, built := newTestRegistry(map[string]string{
		string(ProviderOpenAI): "sk-oai",
	})

	_, err := r.ClientForModel("gpt-4o")
	require.NoError(t, err)
	r.Clear()
	_, err = r.ClientForModel("gpt-4o")
	require.NoError(t, err)

	assert.Equal(t, 2, *built)
}

func TestConfigErrorIsNotRetryable(t *testing.T) {
	err := &ConfigError{Provider: ProviderAnthropic}
	assert.False(t, err.Retryable())
}

func TestFingerprintStableAndNonSecret(t *testing.T) {
	a := credential.Fingerprint("sk-secret")
	b := credential.Fingerprint("sk-secret")
	c := credential.Fingerprint("sk-other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "sk-secret")
	assert.Len(t, a, 16)
}

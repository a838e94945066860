// Package credential provides the credential-store collaborator.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
)

// Store supplies provider API secrets. An empty secret means the provider is
// not configured; that is a fatal configuration error for any send that
// targets it, never a retried one.
type Store interface {
	// GetAll returns provider id -> secret for every known provider,
	// including unconfigured ones (empty secret).
	GetAll() map[string]string

	// Get returns the secret for one provider.
	Get(provider string) string
}

// StaticStore holds secrets resolved once at startup (from environment
// configuration).
type StaticStore struct {
	secrets map[string]string
}

// NewStaticStore creates a store over a fixed secret map.
func NewStaticStore(secrets map[string]string) *StaticStore {
	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		out[k] = v
	}
	return &StaticStore{secrets: out}
}

// GetAll returns a copy of the secret map.
func (s *StaticStore) GetAll() map[string]string {
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out
}

// Get returns the secret for one provider.
func (s *StaticStore) Get(provider string) string {
	return s.secrets[provider]
}

// Fingerprint derives a stable non-secret value from a secret, used to key
// cached provider adapter instances.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const apiKeyBytes = 32

// APIKeyConfig is one configured static key. Hash is the bcrypt hash of the
// key; the plaintext is never stored.
type APIKeyConfig struct {
	Name string `mapstructure:"name"`
	Hash string `mapstructure:"hash"`
	Role string `mapstructure:"role"`
}

// APIKeySet verifies presented keys against configured hashes.
type APIKeySet struct {
	keys []APIKeyConfig
}

// NewAPIKeySet validates the configured hashes.
func NewAPIKeySet(keys []APIKeyConfig) (*APIKeySet, error) {
	for _, k := range keys {
		if k.Name == "" {
			return nil, fmt.Errorf("api key: name is required")
		}
		if !isBcryptHash(k.Hash) {
			return nil, fmt.Errorf("api key %q: hash is not a bcrypt hash", k.Name)
		}
	}
	return &APIKeySet{keys: keys}, nil
}

// Len returns the number of configured keys.
func (s *APIKeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Verify returns the configuration of the key matching presented.
func (s *APIKeySet) Verify(presented string) (APIKeyConfig, bool) {
	if s == nil || presented == "" {
		return APIKeyConfig{}, false
	}
	for _, k := range s.keys {
		if VerifyKey(k.Hash, presented) == nil {
			return k, true
		}
	}
	return APIKeyConfig{}, false
}

// GenerateAPIKey generates a cryptographically secure API key.
// The key is 32 random bytes, hex-encoded to 64 characters.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

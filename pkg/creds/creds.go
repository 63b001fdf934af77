// Package creds resolves connection credentials for database data sources.
// A datasource given as creds://<key> is replaced by the connection string
// stored under that key in the selected provider, which keeps passwords out
// of shell history and process listings.
package creds

import (
	"errors"
	"strings"
)

// Provider returns a stored connection string by key.
type Provider interface {
	Get(key string) (string, error)
}

// Prefix marks a datasource path that needs credential resolution.
const Prefix = "creds://"

// Resolve expands a creds:// datasource through the provider. Paths without
// the prefix pass through untouched.
func Resolve(path string, provider Provider) (string, error) {
	if !strings.HasPrefix(path, Prefix) {
		return path, nil
	}
	key := strings.TrimPrefix(path, Prefix)
	if key == "" {
		return "", errors.New("empty credentials key")
	}
	res, err := provider.Get(key)
	if err != nil {
		return "", err
	}
	return res, nil
}

// NoOpProvider rejects every lookup, the default when no provider is set up.
type NoOpProvider struct{}

// Get returns an error on every key.
func (p *NoOpProvider) Get(_ string) (string, error) {
	return "", errors.New("no credentials provider configured")
}

// MemoryProvider keeps credentials in a map. Made for testing purposes.
type MemoryProvider struct {
	creds map[string]string
}

// NewMemoryProvider creates a MemoryProvider with the given entries.
func NewMemoryProvider(creds map[string]string) *MemoryProvider {
	return &MemoryProvider{creds: creds}
}

// Get returns the stored connection string for the key.
func (m *MemoryProvider) Get(key string) (string, error) {
	if val, ok := m.creds[key]; ok {
		return val, nil
	}
	return "", errors.New("credentials not found")
}

package creds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	provider := NewMemoryProvider(map[string]string{"pg-main": "postgres://u:p@h/db"})

	t.Run("passthrough", func(t *testing.T) {
		res, err := Resolve("/data/file.gpkg", provider)
		require.NoError(t, err)
		assert.Equal(t, "/data/file.gpkg", res)
	})

	t.Run("resolved", func(t *testing.T) {
		res, err := Resolve("creds://pg-main", provider)
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@h/db", res)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Resolve("creds://nope", provider)
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := Resolve("creds://", provider)
		assert.ErrorContains(t, err, "empty credentials key")
	})
}

func TestNoOpProvider(t *testing.T) {
	p := &NoOpProvider{}
	_, err := p.Get("anything")
	assert.ErrorContains(t, err, "no credentials provider configured")
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(map[string]string{"k": "v"})

	res, err := p.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", res)

	_, err = p.Get("missing")
	assert.Error(t, err)
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsStore_MissingKey(t *testing.T) {
	s := NewSettingsStore()

	v, found, err := s.Get(context.Background(), "aaa", "hello")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestSettingsStore_PutOverwritesWholesale(t *testing.T) {
	ctx := context.Background()
	s := NewSettingsStore()

	require.NoError(t, s.Put(ctx, "aaa", "hello", map[string]any{"a": "1", "b": float64(2)}))
	require.NoError(t, s.Put(ctx, "aaa", "hello", map[string]any{"c": true}))

	v, found, err := s.Get(ctx, "aaa", "hello")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"c": true}, v)

	// Keys with shared prefixes must not collide.
	_, found, err = s.Get(ctx, "aaah", "ello")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSettingsStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewSettingsStore()
	require.NoError(t, s.Put(ctx, "aaa", "hello", map[string]any{"a": "1"}))

	v, _, err := s.Get(ctx, "aaa", "hello")
	require.NoError(t, err)
	v["a"] = "mutated"

	again, _, err := s.Get(ctx, "aaa", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1", again["a"])
}

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsStore_RoundTrip(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()
	s := NewSettingsStore(client, "")

	_, found, err := s.Get(ctx, "aaa", "hello")
	require.NoError(t, err)
	assert.False(t, found)

	value := map[string]any{
		"region": "eu",
		"nested": map[string]any{"depth": float64(2)},
		"tags":   []any{"a", "b"},
	}
	require.NoError(t, s.Put(ctx, "aaa", "hello", value))
	assert.True(t, mr.Exists("user:aaa:scenario:hello:settings"))

	got, found, err := s.Get(ctx, "aaa", "hello")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, value, got)

	require.NoError(t, s.Put(ctx, "aaa", "hello", map[string]any{}))
	got, found, err = s.Get(ctx, "aaa", "hello")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, got)
}

func TestSettingsStore_CorruptValue(t *testing.T) {
	client, mr := setupRedis(t)
	s := NewSettingsStore(client, "")
	require.NoError(t, mr.Set("user:aaa:scenario:hello:settings", "not json"))

	_, _, err := s.Get(context.Background(), "aaa", "hello")
	assert.Error(t, err)
}

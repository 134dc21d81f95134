package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// SettingsStore saves each settings object as a JSON string.
type SettingsStore struct {
	client goredis.UniversalClient
	prefix string
}

func NewSettingsStore(client goredis.UniversalClient, prefix string) *SettingsStore {
	return &SettingsStore{client: client, prefix: prefix}
}

func (s *SettingsStore) key(username, scenarioID string) string {
	return fmt.Sprintf("%suser:%s:scenario:%s:settings", s.prefix, username, scenarioID)
}

func (s *SettingsStore) Get(ctx context.Context, username, scenarioID string) (map[string]any, bool, error) {
	data, err := s.client.Get(ctx, s.key(username, scenarioID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load settings: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, true, nil
}

func (s *SettingsStore) Put(ctx context.Context, username, scenarioID string, settings map[string]any) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.client.Set(ctx, s.key(username, scenarioID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

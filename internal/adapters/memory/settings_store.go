package memory

import (
	"context"
	"encoding/json"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// SettingsStore keeps user settings as encoded JSON so reads always hand out fresh copies.
type SettingsStore struct {
	values cmap.ConcurrentMap[string, []byte]
}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: cmap.New[[]byte]()}
}

func settingsKey(username, scenarioID string) string {
	return username + "\x00" + scenarioID
}

func (s *SettingsStore) Get(_ context.Context, username, scenarioID string) (map[string]any, bool, error) {
	raw, ok := s.values.Get(settingsKey(username, scenarioID))
	if !ok {
		return nil, false, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, true, nil
}

func (s *SettingsStore) Put(_ context.Context, username, scenarioID string, settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	s.values.Set(settingsKey(username, scenarioID), raw)
	return nil
}

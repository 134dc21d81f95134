package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/core/ports"
)

var _ ports.SettingsService = (*SettingsService)(nil)

// SettingsService validates and persists per-user scenario settings.
type SettingsService struct {
	store ports.SettingsStore
}

func NewSettingsService(store ports.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

func requireKey(username, scenarioID string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(scenarioID) == "" {
		return fmt.Errorf("%w: scenarioId is required", domain.ErrInvalidArgument)
	}
	return nil
}

// Save replaces whatever was stored for (username, scenarioID).
func (s *SettingsService) Save(ctx context.Context, username, scenarioID string, settings map[string]any) error {
	if err := requireKey(username, scenarioID); err != nil {
		return err
	}
	if settings == nil {
		return fmt.Errorf("%w: settings are required", domain.ErrInvalidArgument)
	}
	return s.store.Put(ctx, username, scenarioID, settings)
}

// Get returns an empty object when nothing was saved for the key.
func (s *SettingsService) Get(ctx context.Context, username, scenarioID string) (map[string]any, error) {
	if err := requireKey(username, scenarioID); err != nil {
		return nil, err
	}
	value, found, err := s.store.Get(ctx, username, scenarioID)
	if err != nil {
		return nil, err
	}
	if !found || value == nil {
		return map[string]any{}, nil
	}
	return value, nil
}

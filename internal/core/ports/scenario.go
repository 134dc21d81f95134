package ports

import (
	"context"

	"github.com/melih/lighthouse-runner/internal/core/domain"
)

// ScenarioRepository serves the scenario definitions loaded at startup.
type ScenarioRepository interface {
	List() []domain.ScenarioSummary
	Get(id string) (*domain.Scenario, error)
}

// ScenarioSource fetches scenario files from somewhere else into the local
// scenario directory, e.g. a git repository.
type ScenarioSource interface {
	Sync(ctx context.Context) error
}

// SettingsStore persists one JSON object per (username, scenarioId).
type SettingsStore interface {
	// Get returns found=false when the key was never written.
	Get(ctx context.Context, username, scenarioID string) (map[string]any, bool, error)
	Put(ctx context.Context, username, scenarioID string, settings map[string]any) error
}

// SettingsService validates settings keys before they reach a SettingsStore.
type SettingsService interface {
	Save(ctx context.Context, username, scenarioID string, settings map[string]any) error
	Get(ctx context.Context, username, scenarioID string) (map[string]any, error)
}

// Package scenario serves scenario YAML files from a directory.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/melih/lighthouse-runner/internal/core/domain"
	"github.com/melih/lighthouse-runner/internal/logging"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type header struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Outputs     any    `yaml:"outputs"`
}

// Registry holds every scenario found under root when it was last loaded.
// Requests are answered from memory, never from the filesystem.
type Registry struct {
	root string
	log  *logrus.Entry

	mu        sync.RWMutex
	scenarios map[string]*domain.Scenario
	ids       []string
}

// NewRegistry loads root. A missing directory yields an empty registry.
func NewRegistry(root string) (*Registry, error) {
	r := &Registry{root: root, log: logging.Component("scenarios")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateID rejects anything that could escape the registry root.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: scenario id is required", domain.ErrInvalidIdentifier)
	case strings.Contains(id, ".."),
		strings.ContainsAny(id, `/\`),
		strings.ContainsRune(id, 0),
		!validID.MatchString(id):
		return fmt.Errorf("%w: scenario id %q", domain.ErrInvalidIdentifier, id)
	}
	return nil
}

// Reload re-reads the root directory and swaps the scenario set in one step.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		r.log.WithField("dir", r.root).Warn("scenario directory does not exist")
		entries = nil
	} else if err != nil {
		return fmt.Errorf("failed to read scenario directory %s: %w", r.root, err)
	}

	scenarios := make(map[string]*domain.Scenario)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if ValidateID(id) != nil {
			r.log.WithField("file", entry.Name()).Warn("skipping scenario with unusable file name")
			continue
		}
		if _, dup := scenarios[id]; dup {
			// foo.yaml wins over foo.yml
			if ext == ".yml" {
				continue
			}
		}

		s, err := load(filepath.Join(r.root, entry.Name()), id)
		if err != nil {
			r.log.WithError(err).WithField("file", entry.Name()).Warn("skipping unreadable scenario")
			continue
		}
		scenarios[id] = s
	}

	ids := make([]string, 0, len(scenarios))
	for id := range scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.mu.Lock()
	r.scenarios = scenarios
	r.ids = ids
	r.mu.Unlock()

	r.log.WithField("count", len(ids)).Info("scenarios loaded")
	return nil
}

func load(path, id string) (*domain.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	name := strings.TrimSpace(h.Name)
	if name == "" {
		name = id
	}
	return &domain.Scenario{
		ScenarioSummary: domain.ScenarioSummary{
			ID:          id,
			Name:        name,
			Description: strings.TrimSpace(h.Description),
		},
		Content: string(data),
		Outputs: h.Outputs,
	}, nil
}

// List returns all scenarios ordered by id.
func (r *Registry) List() []domain.ScenarioSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ScenarioSummary, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.scenarios[id].ScenarioSummary)
	}
	return out
}

// Get returns a scenario by id.
func (r *Registry) Get(id string) (*domain.Scenario, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

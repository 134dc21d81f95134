package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/melih/lighthouse-runner/internal/core/domain"
)

// ContainerStore is an in-memory implementation of ports.ContainerStore.
// Records are cloned on the way in and out so callers never alias stored state.
type ContainerStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Container
	order   []string // insertion order
}

func NewContainerStore() *ContainerStore {
	return &ContainerStore{
		records: make(map[string]*domain.Container),
	}
}

func (s *ContainerStore) Insert(_ context.Context, c *domain.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[c.ID]; ok {
		return fmt.Errorf("container %s: %w", c.ID, domain.ErrAlreadyExists)
	}
	s.records[c.ID] = c.Clone()
	s.order = append(s.order, c.ID)
	return nil
}

func (s *ContainerStore) Get(_ context.Context, id string) (*domain.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *ContainerStore) ListByOwner(_ context.Context, owner string) ([]*domain.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Container{}
	for _, id := range s.order {
		if c := s.records[id]; c.Owner == owner {
			result = append(result, c.Clone())
		}
	}
	return result, nil
}

func (s *ContainerStore) ListAll(_ context.Context) ([]*domain.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Container, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.records[id].Clone())
	}
	return result, nil
}

func (s *ContainerStore) CompareAndSwapStatus(_ context.Context, id string, from domain.Status, change domain.StatusChange) (*domain.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, domain.ErrNotFound)
	}
	if c.Status != from {
		return c.Clone(), fmt.Errorf("container %s is %s, expected %s: %w", id, c.Status, from, domain.ErrStatusConflict)
	}

	updated := c.Clone()
	if err := updated.Apply(change); err != nil {
		return c.Clone(), fmt.Errorf("container %s: %w", id, err)
	}
	s.records[id] = updated
	return updated.Clone(), nil
}

func (s *ContainerStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Package memory is an in-memory route store used in tests and for
// storage.driver=memory deployments.
package memory

import (
	"context"
	"sync"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// Store is an in-memory implementation of storage.RouteStore.
type Store struct {
	mu       sync.RWMutex
	routes   map[string]domain.RouteDefinition
	services map[string]domain.ServiceDefinition
}

var _ storage.RouteStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		routes:   make(map[string]domain.RouteDefinition),
		services: make(map[string]domain.ServiceDefinition),
	}
}

func (s *Store) AllRoutes(ctx context.Context) ([]domain.RouteDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]domain.RouteDefinition, 0, len(s.routes))
	for _, def := range s.routes {
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *Store) FindByPathAndMethod(ctx context.Context, path, method string) (*domain.RouteDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wildcard *domain.RouteDefinition
	for _, def := range s.routes {
		if !def.Active || def.Path != path {
			continue
		}
		if def.Method == method {
			d := def
			return &d, nil
		}
		if def.Method == domain.MethodAny && wildcard == nil {
			d := def
			wildcard = &d
		}
	}
	if wildcard != nil {
		return wildcard, nil
	}
	return nil, domain.ErrNotFound
}

func (s *Store) GetRoute(ctx context.Context, id string) (*domain.RouteDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.routes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &def, nil
}

func (s *Store) SaveRoute(ctx context.Context, def *domain.RouteDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[def.ID] = *def
	return nil
}

func (s *Store) CountRoutes(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.routes), nil
}

func (s *Store) FindService(ctx context.Context, name string) (*domain.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.services[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &def, nil
}

func (s *Store) SaveService(ctx context.Context, def *domain.ServiceDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[def.Name] = *def
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Package routing keeps the in-process route match index. Lookups on the
// request hot path hit the index, not the route store; the index is rebuilt
// from the store at startup, on refresh, and after admin writes.
package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// Index maps (path, method) to the single authoritative active route.
type Index struct {
	store storage.RouteStore

	mu     sync.RWMutex
	routes map[string]*domain.RouteDefinition
}

// NewIndex creates an empty index backed by store. Call Rebuild before
// serving traffic.
func NewIndex(store storage.RouteStore) *Index {
	return &Index{
		store:  store,
		routes: make(map[string]*domain.RouteDefinition),
	}
}

// Rebuild replaces the index contents from the store. Inactive definitions
// are skipped; when duplicates exist for a (path, method) pair the first
// active one wins and the rest are ignored.
func (idx *Index) Rebuild(ctx context.Context) error {
	defs, err := idx.store.AllRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild route index: %w", err)
	}

	routes := make(map[string]*domain.RouteDefinition, len(defs))
	for i := range defs {
		def := defs[i]
		if !def.Active {
			continue
		}
		key := indexKey(def.Path, def.Method)
		if _, exists := routes[key]; exists {
			continue
		}
		routes[key] = &def
	}

	idx.mu.Lock()
	idx.routes = routes
	idx.mu.Unlock()
	return nil
}

// Match returns the active route for a path and method. Exact method
// matches win over wildcard routes. A miss for a known path with a
// different method is still a plain miss.
func (idx *Index) Match(path, method string) (*domain.RouteDefinition, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if def, ok := idx.routes[indexKey(path, method)]; ok {
		return def, true
	}
	if def, ok := idx.routes[indexKey(path, domain.MethodAny)]; ok {
		return def, true
	}
	return nil, false
}

// Len returns the number of indexed routes.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.routes)
}

func indexKey(path, method string) string {
	return method + " " + path
}

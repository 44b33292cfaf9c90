// Package storage defines the route store interface and shared helpers.
// Implementations live in the sqldb and memory subpackages.
package storage

import (
	"context"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
)

// RouteStore persists route and service definitions. The pipeline treats it
// as an external collaborator: reads on the hot path go through the routing
// index, not directly through this interface.
type RouteStore interface {
	// AllRoutes returns every stored route definition, active or not.
	AllRoutes(ctx context.Context) ([]domain.RouteDefinition, error)

	// FindByPathAndMethod returns the active route for an exact
	// (path, method) pair, or domain.ErrNotFound.
	FindByPathAndMethod(ctx context.Context, path, method string) (*domain.RouteDefinition, error)

	// GetRoute returns a route by id, or domain.ErrNotFound.
	GetRoute(ctx context.Context, id string) (*domain.RouteDefinition, error)

	// SaveRoute inserts or updates a route definition keyed by id.
	SaveRoute(ctx context.Context, def *domain.RouteDefinition) error

	// CountRoutes returns the number of stored route definitions.
	CountRoutes(ctx context.Context) (int, error)

	// FindService returns a service definition by name, or domain.ErrNotFound.
	FindService(ctx context.Context, name string) (*domain.ServiceDefinition, error)

	// SaveService inserts or updates a service definition keyed by name.
	SaveService(ctx context.Context, def *domain.ServiceDefinition) error

	Close() error
}

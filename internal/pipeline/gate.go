package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/tjfontaine/dynamic-gateway/internal/breaker"
	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/routing"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// BreakerGate is the first stage. It resolves the target service for the
// request and fails fast with 503 while the service's breaker is open, so
// no further stage runs work for a request that cannot be forwarded.
type BreakerGate struct {
	index    *routing.Index
	store    storage.RouteStore
	registry *breaker.Registry
	logger   *slog.Logger
}

func NewBreakerGate(index *routing.Index, store storage.RouteStore, registry *breaker.Registry, logger *slog.Logger) *BreakerGate {
	return &BreakerGate{
		index:    index,
		store:    store,
		registry: registry,
		logger:   logger.With(slog.String("component", "breaker-gate")),
	}
}

func (g *BreakerGate) Name() string { return "breaker-gate" }

func (g *BreakerGate) Process(ctx context.Context, ex *Exchange) (*Verdict, error) {
	route, ok := g.index.Match(ex.Request.URL.Path, ex.Request.Method)
	if !ok {
		// No route; let the matcher stage produce the 404.
		return nil, nil
	}
	ex.Route = route

	service := route.TargetService()
	policy := g.resolvePolicy(ctx, ex, service)

	if g.registry.State(service, policy) == gobreaker.StateOpen {
		g.logger.Warn("breaker open, rejecting request",
			slog.String("service", service),
			slog.String("path", ex.Request.URL.Path))
		return Terminal(http.StatusServiceUnavailable), nil
	}
	return nil, nil
}

// resolvePolicy loads the service definition for its breaker policy. A
// missing or unreadable definition degrades to the default policy instead
// of failing the request.
func (g *BreakerGate) resolvePolicy(ctx context.Context, ex *Exchange, service string) *domain.BreakerPolicy {
	def, err := g.store.FindService(ctx, service)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			g.logger.Warn("failed to load service definition, using default breaker policy",
				slog.String("service", service),
				slog.String("error", err.Error()))
		}
		return nil
	}
	ex.Service = def
	return def.Breaker
}

package pipeline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/dynamic-gateway/internal/routing"
)

// RouteMatcher resolves the request's route from the index. A request that
// matches no active route terminates here with 404, including a known path
// hit with the wrong method, which is deliberately a 404 rather than a 405.
type RouteMatcher struct {
	index  *routing.Index
	logger *slog.Logger
}

func NewRouteMatcher(index *routing.Index, logger *slog.Logger) *RouteMatcher {
	return &RouteMatcher{
		index:  index,
		logger: logger.With(slog.String("component", "route-matcher")),
	}
}

func (m *RouteMatcher) Name() string { return "route-matcher" }

func (m *RouteMatcher) Process(ctx context.Context, ex *Exchange) (*Verdict, error) {
	if ex.Route != nil {
		return nil, nil
	}

	route, ok := m.index.Match(ex.Request.URL.Path, ex.Request.Method)
	if !ok {
		m.logger.Info("no route matched",
			slog.String("method", ex.Request.Method),
			slog.String("path", ex.Request.URL.Path))
		return Terminal(http.StatusNotFound), nil
	}
	ex.Route = route
	return nil, nil
}

// Package proxy forwards approved requests to their backend service and
// feeds every call outcome back into the breaker registry.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/dynamic-gateway/internal/breaker"
	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/pipeline"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// Forwarder proxies requests to the backend named by the matched route.
type Forwarder struct {
	store     storage.RouteStore
	registry  *breaker.Registry
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

var _ pipeline.Forwarder = (*Forwarder)(nil)

// New creates a forwarder. transport may be nil to use the default.
func New(store storage.RouteStore, registry *breaker.Registry, timeout time.Duration, transport http.RoundTripper, logger *slog.Logger) *Forwarder {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Forwarder{
		store:     store,
		registry:  registry,
		timeout:   timeout,
		transport: transport,
		logger:    logger.With(slog.String("component", "proxy")),
	}
}

// Forward proxies the exchange's request to the route target. The call runs
// under the service's breaker with a bounded timeout; a timeout or transport
// error counts as a breaker failure.
func (f *Forwarder) Forward(ctx context.Context, ex *pipeline.Exchange) error {
	if ex.Route == nil {
		return domain.ErrRouteNotFound
	}

	target, err := f.resolveTarget(ctx, ex)
	if err != nil {
		return err
	}

	service := ex.Route.TargetService()
	var policy *domain.BreakerPolicy
	if ex.Service != nil {
		policy = ex.Service.Breaker
	}

	return f.registry.Do(service, policy, func() error {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		var callErr error
		rp := &httputil.ReverseProxy{
			Transport: f.transport,
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(target)
				pr.SetXForwarded()
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				callErr = err
				w.WriteHeader(http.StatusBadGateway)
			},
			ErrorLog: slog.NewLogLogger(f.logger.Handler(), slog.LevelError),
		}

		rp.ServeHTTP(ex.Writer, ex.Request.WithContext(callCtx))

		if callErr != nil {
			return fmt.Errorf("%w: %s", domain.ErrUpstreamFailure, callErr)
		}
		return nil
	})
}

// resolveTarget turns the route URI into a dialable base URL. lb:// URIs
// resolve through the service definition's base URL; plain http(s) URIs are
// dialed directly.
func (f *Forwarder) resolveTarget(ctx context.Context, ex *pipeline.Exchange) (*url.URL, error) {
	uri := ex.Route.URI

	if strings.HasPrefix(uri, "lb://") {
		def := ex.Service
		if def == nil {
			var err error
			def, err = f.store.FindService(ctx, ex.Route.TargetService())
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, fmt.Errorf("%w: no service definition for %s", domain.ErrUpstreamFailure, ex.Route.TargetService())
				}
				return nil, fmt.Errorf("%w: %s", domain.ErrUpstreamFailure, err)
			}
		}
		uri = def.BaseURL
	}

	target, err := url.Parse(uri)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: invalid target %q", domain.ErrUpstreamFailure, uri)
	}
	return target, nil
}

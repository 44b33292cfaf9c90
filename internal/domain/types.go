// Package domain defines the core types shared across the gateway:
// route and service definitions, cached responses, and the error taxonomy
// the pipeline maps to HTTP statuses.
package domain

import (
	"strings"
	"time"
)

// MethodAny matches any HTTP method when used in a RouteDefinition.
const MethodAny = "*"

// RouteDefinition describes a single routable endpoint. Definitions are
// owned by the route store; the pipeline only reads them. Mutations happen
// through the admin surface or the bundled-artifact loader.
type RouteDefinition struct {
	ID          string   `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	Path        string   `json:"path" db:"path"`
	Method      string   `json:"method" db:"method"`
	URI         string   `json:"uri" db:"uri"`
	ServiceName string   `json:"serviceName" db:"service_name"`
	Predicates  []string `json:"predicates,omitempty"`
	Filters     []string `json:"filters,omitempty"`
	Active      bool     `json:"active" db:"active"`
}

// TargetService returns the service a route points at: the explicit
// ServiceName when set, otherwise the host portion of the URI
// ("http://user-service:8080" -> "user-service").
func (r *RouteDefinition) TargetService() string {
	if r.ServiceName != "" {
		return r.ServiceName
	}
	uri := r.URI
	for _, scheme := range []string{"lb://", "http://", "https://"} {
		if strings.HasPrefix(uri, scheme) {
			uri = strings.TrimPrefix(uri, scheme)
			break
		}
	}
	if i := strings.IndexAny(uri, ":/"); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

// ServiceDefinition describes a backend service and its breaker policy.
type ServiceDefinition struct {
	Name    string         `json:"name" db:"name"`
	BaseURL string         `json:"baseUrl" db:"base_url"`
	Active  bool           `json:"active" db:"active"`
	Breaker *BreakerPolicy `json:"circuitBreaker,omitempty"`
}

// BreakerPolicy carries the per-service circuit breaker thresholds.
// Thresholds are percentages in [0,100].
type BreakerPolicy struct {
	FailureRateThreshold  float64       `json:"failureRateThreshold"`
	SlowCallRateThreshold float64       `json:"slowCallRateThreshold"`
	OpenStateWait         time.Duration `json:"waitDurationInOpenState"`
	HalfOpenCalls         uint32        `json:"permittedCallsInHalfOpenState"`
	SlidingWindowSize     uint32        `json:"slidingWindowSize"`
}

// CachedResponse is the serialized form of a backend response stored in the
// cache store. Body is raw bytes; encoding/json base64-encodes it on the
// wire, which keeps binary response bodies intact.
type CachedResponse struct {
	StatusCode  int                 `json:"statusCode"`
	ContentType string              `json:"contentType"`
	Headers     map[string][]string `json:"headers"`
	Body        []byte              `json:"body"`
}

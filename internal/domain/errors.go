package domain

import (
	"errors"
	"net/http"
)

// Sentinel errors for the conditions the pipeline can surface to a client.
// Everything else a stage encounters is converted into one of these locally;
// internal failures never escape as a server error.
var (
	// ErrUnauthenticated covers a missing, malformed, or rejected token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRouteNotFound means no active route matches the request.
	ErrRouteNotFound = errors.New("route not found")

	// ErrServiceUnavailable means the target service's breaker is open.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrUpstreamFailure means the backend call failed or timed out.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrCacheStore marks cache store I/O failures. Never user-visible:
	// callers log it and proceed as if the lookup missed.
	ErrCacheStore = errors.New("cache store error")

	// ErrNotFound is the generic store miss (route lookup by id, etc).
	ErrNotFound = errors.New("not found")
)

// StatusOf maps a pipeline error to the HTTP status written to the client.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRouteNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

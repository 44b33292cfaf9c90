// Package breaker manages one circuit breaker per backend service. Breakers
// are created lazily from the service's policy (or the configured default)
// and live for the process lifetime.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
)

// errSlowCall marks an upstream call that completed but exceeded the
// slow-call duration; it is counted as a breaker failure.
var errSlowCall = errors.New("upstream call too slow")

// Registry holds the per-service breakers.
type Registry struct {
	defaults         domain.BreakerPolicy
	slowCallDuration time.Duration
	logger           *slog.Logger

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
}

// NewRegistry creates a registry with the given default policy, applied to
// services that define none of their own.
func NewRegistry(defaults domain.BreakerPolicy, slowCallDuration time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		defaults:         defaults,
		slowCallDuration: slowCallDuration,
		logger:           logger.With(slog.String("component", "breaker")),
	}
}

// State returns the breaker state for a service. A service that has never
// been called reports Closed.
func (r *Registry) State(service string, policy *domain.BreakerPolicy) gobreaker.State {
	return r.breakerFor(service, policy).State()
}

// Do runs fn under the service's breaker. The call duration is measured:
// calls slower than the slow-call duration count as failures even when fn
// succeeds, so persistently slow backends trip the breaker too.
func (r *Registry) Do(service string, policy *domain.BreakerPolicy, fn func() error) error {
	cb := r.breakerFor(service, policy)

	_, err := cb.Execute(func() (any, error) {
		start := time.Now()
		if err := fn(); err != nil {
			return nil, err
		}
		if r.slowCallDuration > 0 && time.Since(start) > r.slowCallDuration {
			return nil, errSlowCall
		}
		return nil, nil
	})

	if errors.Is(err, errSlowCall) {
		r.logger.Warn("slow upstream call recorded", slog.String("service", service))
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ErrServiceUnavailable
	}
	return err
}

func (r *Registry) breakerFor(service string, policy *domain.BreakerPolicy) *gobreaker.CircuitBreaker[any] {
	if val, ok := r.breakers.Load(service); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	pol := r.defaults
	if policy != nil {
		pol = *policy
	}

	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: pol.HalfOpenCalls,
		Timeout:     pol.OpenStateWait,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < pol.SlidingWindowSize {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return failureRate >= pol.FailureRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("breaker state changed",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)

	// Concurrent first calls may race here; LoadOrStore keeps one winner.
	actual, _ := r.breakers.LoadOrStore(service, cb)
	return actual.(*gobreaker.CircuitBreaker[any])
}

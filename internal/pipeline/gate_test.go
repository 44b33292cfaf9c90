package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tjfontaine/dynamic-gateway/internal/breaker"
	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/routing"
	"github.com/tjfontaine/dynamic-gateway/internal/storage/memory"
)

func gateFixture(t *testing.T) (*memory.Store, *routing.Index, *breaker.Registry) {
	t.Helper()
	store := memory.New()
	err := store.SaveRoute(context.Background(), &domain.RouteDefinition{
		ID:     "users-route",
		Path:   "/users",
		Method: "GET",
		URI:    "lb://users-service",
		Active: true,
	})
	if err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}

	index := routing.NewIndex(store)
	if err := index.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	defaults := domain.BreakerPolicy{
		FailureRateThreshold: 50,
		OpenStateWait:        time.Minute,
		HalfOpenCalls:        1,
		SlidingWindowSize:    2,
	}
	return store, index, breaker.NewRegistry(defaults, time.Minute, testLogger())
}

func TestBreakerGate_ClosedBreakerDelegates(t *testing.T) {
	store, index, registry := gateFixture(t)
	gate := NewBreakerGate(index, store, registry, testLogger())

	ex := &Exchange{Request: httptest.NewRequest("GET", "/users", nil)}
	verdict, err := gate.Process(context.Background(), ex)
	if err != nil || verdict != nil {
		t.Fatalf("Process() = %+v, %v; want delegation", verdict, err)
	}
	if ex.Route == nil || ex.Route.ID != "users-route" {
		t.Errorf("route not attached to exchange: %+v", ex.Route)
	}
}

func TestBreakerGate_OpenBreakerShortCircuits(t *testing.T) {
	store, index, registry := gateFixture(t)
	gate := NewBreakerGate(index, store, registry, testLogger())

	// Trip the users-service breaker with consecutive failures.
	boom := errors.New("backend down")
	for i := 0; i < 3; i++ {
		registry.Do("users-service", nil, func() error { return boom })
	}

	ex := &Exchange{Request: httptest.NewRequest("GET", "/users", nil)}
	verdict, err := gate.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if verdict == nil || verdict.Status != http.StatusServiceUnavailable {
		t.Fatalf("verdict = %+v, want terminal 503", verdict)
	}
}

func TestBreakerGate_OpenBreakerSkipsLaterStages(t *testing.T) {
	store, index, registry := gateFixture(t)
	gate := NewBreakerGate(index, store, registry, testLogger())

	for i := 0; i < 3; i++ {
		registry.Do("users-service", nil, func() error { return errors.New("backend down") })
	}

	later := &stubStage{name: "later"}
	fwd := &stubForwarder{}
	e := NewExecutor([]Stage{gate, later}, fwd, testLogger())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/users", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if later.calls != 0 {
		t.Error("later stages must not run once the gate rejects")
	}
	if fwd.calls != 0 {
		t.Error("forwarder must not run once the gate rejects")
	}
}

func TestBreakerGate_ServicePolicyOverridesDefault(t *testing.T) {
	store, index, registry := gateFixture(t)
	err := store.SaveService(context.Background(), &domain.ServiceDefinition{
		Name:    "users-service",
		BaseURL: "http://users.internal:8080",
		Breaker: &domain.BreakerPolicy{
			FailureRateThreshold: 100,
			OpenStateWait:        time.Minute,
			HalfOpenCalls:        1,
			SlidingWindowSize:    100,
		},
	})
	if err != nil {
		t.Fatalf("SaveService() error = %v", err)
	}
	gate := NewBreakerGate(index, store, registry, testLogger())

	ex := &Exchange{Request: httptest.NewRequest("GET", "/users", nil)}
	verdict, err := gate.Process(context.Background(), ex)
	if err != nil || verdict != nil {
		t.Fatalf("Process() = %+v, %v; want delegation", verdict, err)
	}
	if ex.Service == nil || ex.Service.Name != "users-service" {
		t.Errorf("service definition not attached: %+v", ex.Service)
	}
}

func TestBreakerGate_UnknownRouteDelegates(t *testing.T) {
	store, index, registry := gateFixture(t)
	gate := NewBreakerGate(index, store, registry, testLogger())

	ex := &Exchange{Request: httptest.NewRequest("GET", "/missing", nil)}
	verdict, err := gate.Process(context.Background(), ex)
	if err != nil || verdict != nil {
		t.Fatalf("Process() = %+v, %v; want delegation to the matcher", verdict, err)
	}
	if ex.Route != nil {
		t.Error("unmatched requests must not carry a route")
	}
}

func TestRouteMatcher_UnknownPathIs404(t *testing.T) {
	_, index, _ := gateFixture(t)
	matcher := NewRouteMatcher(index, testLogger())

	ex := &Exchange{Request: httptest.NewRequest("GET", "/missing", nil)}
	verdict, err := matcher.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if verdict == nil || verdict.Status != http.StatusNotFound {
		t.Fatalf("verdict = %+v, want terminal 404", verdict)
	}
}

func TestRouteMatcher_WrongMethodIs404(t *testing.T) {
	_, index, _ := gateFixture(t)
	matcher := NewRouteMatcher(index, testLogger())

	ex := &Exchange{Request: httptest.NewRequest("DELETE", "/users", nil)}
	verdict, err := matcher.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if verdict == nil || verdict.Status != http.StatusNotFound {
		t.Fatalf("verdict = %+v, want terminal 404 for an unregistered method", verdict)
	}
}

func TestRouteMatcher_ResolvedRouteDelegates(t *testing.T) {
	_, index, _ := gateFixture(t)
	matcher := NewRouteMatcher(index, testLogger())

	ex := &Exchange{Request: httptest.NewRequest("GET", "/users", nil)}
	verdict, err := matcher.Process(context.Background(), ex)
	if err != nil || verdict != nil {
		t.Fatalf("Process() = %+v, %v; want delegation", verdict, err)
	}
	if ex.Route == nil {
		t.Fatal("route not attached to exchange")
	}
}

package routing

import (
	"context"
	"testing"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/storage/memory"
)

func buildIndex(t *testing.T, defs ...domain.RouteDefinition) *Index {
	t.Helper()
	store := memory.New()
	for i := range defs {
		if err := store.SaveRoute(context.Background(), &defs[i]); err != nil {
			t.Fatalf("SaveRoute() error = %v", err)
		}
	}
	idx := NewIndex(store)
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return idx
}

func TestIndex_Match(t *testing.T) {
	idx := buildIndex(t,
		domain.RouteDefinition{ID: "r1", Path: "/users", Method: "GET", URI: "http://user-service:8080", Active: true},
		domain.RouteDefinition{ID: "r2", Path: "/users", Method: "POST", URI: "http://user-service:8080", Active: true},
	)

	def, ok := idx.Match("/users", "GET")
	if !ok {
		t.Fatal("Match() should find GET /users")
	}
	if def.ID != "r1" {
		t.Errorf("Match() route = %v, want r1", def.ID)
	}

	if _, ok := idx.Match("/users", "DELETE"); ok {
		t.Error("Match() should miss on a different method")
	}
	if _, ok := idx.Match("/missing", "GET"); ok {
		t.Error("Match() should miss on an unknown path")
	}
}

func TestIndex_WildcardMethod(t *testing.T) {
	idx := buildIndex(t,
		domain.RouteDefinition{ID: "any", Path: "/health", Method: domain.MethodAny, URI: "http://svc", Active: true},
		domain.RouteDefinition{ID: "get", Path: "/health", Method: "GET", URI: "http://svc", Active: true},
	)

	def, _ := idx.Match("/health", "GET")
	if def == nil || def.ID != "get" {
		t.Errorf("exact method should win over wildcard, got %+v", def)
	}

	def, ok := idx.Match("/health", "PATCH")
	if !ok || def.ID != "any" {
		t.Errorf("wildcard should match PATCH, got %+v", def)
	}
}

func TestIndex_IgnoresInactive(t *testing.T) {
	idx := buildIndex(t,
		domain.RouteDefinition{ID: "off", Path: "/users", Method: "GET", URI: "http://svc", Active: false},
	)

	if _, ok := idx.Match("/users", "GET"); ok {
		t.Error("Match() should ignore inactive routes")
	}
	if idx.Len() != 0 {
		t.Errorf("Len() = %d, want 0", idx.Len())
	}
}

func TestIndex_RebuildReplaces(t *testing.T) {
	store := memory.New()
	route := domain.RouteDefinition{ID: "r1", Path: "/a", Method: "GET", URI: "http://svc", Active: true}
	store.SaveRoute(context.Background(), &route)

	idx := NewIndex(store)
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if _, ok := idx.Match("/a", "GET"); !ok {
		t.Fatal("route should be indexed after first rebuild")
	}

	route.Active = false
	store.SaveRoute(context.Background(), &route)
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if _, ok := idx.Match("/a", "GET"); ok {
		t.Error("deactivated route should disappear after rebuild")
	}
}

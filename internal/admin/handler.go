// Package admin exposes the route-management HTTP surface.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/loader"
	"github.com/tjfontaine/dynamic-gateway/internal/routing"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// Handler serves POST /routes, GET /routes/{routeId}, and
// GET /routes/refresh-routes.
type Handler struct {
	store  storage.RouteStore
	loader *loader.Loader
	index  *routing.Index
	logger *slog.Logger
}

func NewHandler(store storage.RouteStore, l *loader.Loader, index *routing.Index, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		loader: l,
		index:  index,
		logger: logger.With(slog.String("component", "admin")),
	}
}

// Routes returns the chi router for the admin surface, mounted at /routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/refresh-routes", h.refresh)
	r.Get("/{routeId}", h.getByID)
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var def domain.RouteDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid route definition", http.StatusBadRequest)
		return
	}
	if def.Path == "" || def.Method == "" {
		http.Error(w, "route definition requires path and method", http.StatusBadRequest)
		return
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	if err := h.store.SaveRoute(r.Context(), &def); err != nil {
		h.logger.Error("failed to save route", slog.String("error", err.Error()))
		http.Error(w, "failed to save route", http.StatusInternalServerError)
		return
	}

	h.rebuildIndex(r.Context())
	h.logger.Info("route created",
		slog.String("id", def.ID),
		slog.String("method", def.Method),
		slog.String("path", def.Path))

	writeJSON(w, http.StatusOK, &def)
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "routeId")

	def, err := h.store.GetRoute(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "route not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get route", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "failed to get route", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.loader.Load(r.Context()); err != nil {
		h.logger.Error("route refresh failed", slog.String("error", err.Error()))
		http.Error(w, "failed to reload routes", http.StatusInternalServerError)
		return
	}
	h.rebuildIndex(r.Context())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Routes reloaded successfully"))
}

func (h *Handler) rebuildIndex(ctx context.Context) {
	if err := h.index.Rebuild(ctx); err != nil {
		h.logger.Error("failed to rebuild route index", slog.String("error", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

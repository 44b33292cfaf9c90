// Package loader bootstraps the route store from bundled JSON artifacts:
// one services file and a directory of route files. Loading is idempotent
// and tolerates malformed definitions by skipping them.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// Loader reads bundled definitions and upserts them into the route store.
type Loader struct {
	store        storage.RouteStore
	servicesFile string
	routesDir    string
	logger       *slog.Logger
}

func New(store storage.RouteStore, servicesFile, routesDir string, logger *slog.Logger) *Loader {
	return &Loader{
		store:        store,
		servicesFile: servicesFile,
		routesDir:    routesDir,
		logger:       logger.With(slog.String("component", "loader")),
	}
}

// Load upserts all bundled service and route definitions. One malformed
// file or definition never aborts the rest; each failure is logged and
// skipped. Re-running with unchanged artifacts leaves the store unchanged.
func (l *Loader) Load(ctx context.Context) error {
	if err := l.loadServices(ctx); err != nil {
		return err
	}
	return l.loadRoutes(ctx)
}

func (l *Loader) loadServices(ctx context.Context) error {
	data, err := os.ReadFile(l.servicesFile)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("no services file, skipping", slog.String("path", l.servicesFile))
			return nil
		}
		return fmt.Errorf("failed to read services file: %w", err)
	}

	var defs []domain.ServiceDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		l.logger.Error("malformed services file, skipping",
			slog.String("path", l.servicesFile),
			slog.String("error", err.Error()))
		return nil
	}

	for i := range defs {
		def := &defs[i]
		if def.Name == "" {
			l.logger.Error("service definition without a name, skipping",
				slog.String("path", l.servicesFile))
			continue
		}
		if err := l.store.SaveService(ctx, def); err != nil {
			l.logger.Error("failed to save service, skipping",
				slog.String("service", def.Name),
				slog.String("error", err.Error()))
		}
	}

	l.logger.Info("services loaded", slog.Int("count", len(defs)))
	return nil
}

func (l *Loader) loadRoutes(ctx context.Context) error {
	entries, err := os.ReadDir(l.routesDir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("no routes directory, skipping", slog.String("path", l.routesDir))
			return nil
		}
		return fmt.Errorf("failed to read routes directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(l.routesDir, entry.Name())
		if filepath.Clean(path) == filepath.Clean(l.servicesFile) {
			continue
		}
		loaded += l.loadRouteFile(ctx, path)
	}

	l.logger.Info("routes loaded", slog.Int("count", loaded))
	return nil
}

func (l *Loader) loadRouteFile(ctx context.Context, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Error("failed to read route file, skipping",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return 0
	}

	var defs []domain.RouteDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		l.logger.Error("malformed route file, skipping",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return 0
	}

	loaded := 0
	for i := range defs {
		def := &defs[i]
		if def.Path == "" || def.Method == "" {
			l.logger.Error("route definition missing path or method, skipping",
				slog.String("path", path),
				slog.String("id", def.ID))
			continue
		}
		if def.ID == "" {
			// Derived, not random: reloading the same artifact must
			// hit the same row.
			def.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(def.Method+" "+def.Path)).String()
		}
		if err := l.store.SaveRoute(ctx, def); err != nil {
			l.logger.Error("failed to save route, skipping",
				slog.String("id", def.ID),
				slog.String("error", err.Error()))
			continue
		}
		loaded++
	}
	return loaded
}

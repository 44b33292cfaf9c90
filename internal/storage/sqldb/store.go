// Package sqldb is the SQLite-backed route store.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
)

// Store implements storage.RouteStore on SQLite via sqlx.
type Store struct {
	db *sqlx.DB
}

var _ storage.RouteStore = (*Store)(nil)

// New opens (or creates) the database at dsn and initializes the schema.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent admin calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS routes (
id TEXT PRIMARY KEY,
name TEXT NOT NULL DEFAULT '',
path TEXT NOT NULL,
method TEXT NOT NULL,
uri TEXT NOT NULL,
service_name TEXT NOT NULL DEFAULT '',
predicates TEXT,
filters TEXT,
active INTEGER NOT NULL DEFAULT 1
)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_path_method ON routes(path, method)`,
		`CREATE TABLE IF NOT EXISTS services (
name TEXT PRIMARY KEY,
base_url TEXT NOT NULL,
active INTEGER NOT NULL DEFAULT 1,
breaker TEXT
)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type routeRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Path        string         `db:"path"`
	Method      string         `db:"method"`
	URI         string         `db:"uri"`
	ServiceName string         `db:"service_name"`
	Predicates  sql.NullString `db:"predicates"`
	Filters     sql.NullString `db:"filters"`
	Active      bool           `db:"active"`
}

func (r *routeRow) toDomain() (*domain.RouteDefinition, error) {
	def := &domain.RouteDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Path:        r.Path,
		Method:      r.Method,
		URI:         r.URI,
		ServiceName: r.ServiceName,
		Active:      r.Active,
	}
	if r.Predicates.Valid && r.Predicates.String != "" {
		if err := json.Unmarshal([]byte(r.Predicates.String), &def.Predicates); err != nil {
			return nil, fmt.Errorf("failed to decode predicates for route %s: %w", r.ID, err)
		}
	}
	if r.Filters.Valid && r.Filters.String != "" {
		if err := json.Unmarshal([]byte(r.Filters.String), &def.Filters); err != nil {
			return nil, fmt.Errorf("failed to decode filters for route %s: %w", r.ID, err)
		}
	}
	return def, nil
}

func (s *Store) AllRoutes(ctx context.Context) ([]domain.RouteDefinition, error) {
	var rows []routeRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM routes ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	defs := make([]domain.RouteDefinition, 0, len(rows))
	for i := range rows {
		def, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

func (s *Store) FindByPathAndMethod(ctx context.Context, path, method string) (*domain.RouteDefinition, error) {
	var row routeRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM routes WHERE path = ? AND method IN (?, ?) AND active = 1 ORDER BY method DESC LIMIT 1",
		path, method, domain.MethodAny)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find route %s %s: %w", method, path, err)
	}
	return row.toDomain()
}

func (s *Store) GetRoute(ctx context.Context, id string) (*domain.RouteDefinition, error) {
	var row routeRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM routes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route %s: %w", id, err)
	}
	return row.toDomain()
}

func (s *Store) SaveRoute(ctx context.Context, def *domain.RouteDefinition) error {
	predicates, err := json.Marshal(def.Predicates)
	if err != nil {
		return fmt.Errorf("failed to encode predicates: %w", err)
	}
	filters, err := json.Marshal(def.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO routes
(id, name, path, method, uri, service_name, predicates, filters, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
name = excluded.name, path = excluded.path, method = excluded.method,
uri = excluded.uri, service_name = excluded.service_name,
predicates = excluded.predicates, filters = excluded.filters,
active = excluded.active`,
		def.ID, def.Name, def.Path, def.Method, def.URI, def.ServiceName,
		string(predicates), string(filters), def.Active)
	if err != nil {
		return fmt.Errorf("failed to save route %s: %w", def.ID, err)
	}
	return nil
}

func (s *Store) CountRoutes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM routes"); err != nil {
		return 0, fmt.Errorf("failed to count routes: %w", err)
	}
	return n, nil
}

type serviceRow struct {
	Name    string         `db:"name"`
	BaseURL string         `db:"base_url"`
	Active  bool           `db:"active"`
	Breaker sql.NullString `db:"breaker"`
}

func (s *Store) FindService(ctx context.Context, name string) (*domain.ServiceDefinition, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM services WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find service %s: %w", name, err)
	}

	def := &domain.ServiceDefinition{
		Name:    row.Name,
		BaseURL: row.BaseURL,
		Active:  row.Active,
	}
	if row.Breaker.Valid && row.Breaker.String != "" {
		var policy domain.BreakerPolicy
		if err := json.Unmarshal([]byte(row.Breaker.String), &policy); err != nil {
			return nil, fmt.Errorf("failed to decode breaker policy for %s: %w", name, err)
		}
		def.Breaker = &policy
	}
	return def, nil
}

func (s *Store) SaveService(ctx context.Context, def *domain.ServiceDefinition) error {
	var breaker any
	if def.Breaker != nil {
		data, err := json.Marshal(def.Breaker)
		if err != nil {
			return fmt.Errorf("failed to encode breaker policy: %w", err)
		}
		breaker = string(data)
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO services (name, base_url, active, breaker)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
base_url = excluded.base_url, active = excluded.active, breaker = excluded.breaker`,
		def.Name, def.BaseURL, def.Active, breaker)
	if err != nil {
		return fmt.Errorf("failed to save service %s: %w", def.Name, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Package catalog stores the content catalog: the mapping from stable
// content IDs to the ranked list of site page URLs the router tries in
// order.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"dizi-proxy/work/apperr"
	"dizi-proxy/work/logger"
	"dizi-proxy/work/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store looks up catalog entries by ID.
type Store interface {
	Get(ctx context.Context, id string) (*types.CatalogEntry, error)
	List(ctx context.Context) ([]types.CatalogEntry, error)
	Close() error
}

// SQLiteStore is the Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the catalog database at path and
// runs any pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("{catalog/catalog.go - OpenSQLite} Catalog database opened with WAL mode: %s", path)
	return store, nil
}

// migrate runs all pending migration files in version order.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		fmt.Sscanf(entry.Name(), "%d_", &version)

		var exists bool
		err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := migrations.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", entry.Name(), err)
		}

		logger.Info("{catalog/catalog.go - migrate} Applied migration: %s", entry.Name())
	}

	return nil
}

// Get returns the entry for id with its sources ordered by priority.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.CatalogEntry, error) {
	entry := &types.CatalogEntry{ID: id}
	err := s.db.QueryRowContext(ctx, "SELECT title, year FROM entries WHERE id = ?", id).
		Scan(&entry.Title, &entry.Year)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("unknown content id %q", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "querying catalog entry")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT site, url, priority FROM entry_sources WHERE entry_id = ? ORDER BY priority, site", id)
	if err != nil {
		return nil, apperr.Internal(err, "querying catalog sources")
	}
	defer rows.Close()

	for rows.Next() {
		var src types.CatalogSourceLink
		if err := rows.Scan(&src.Site, &src.URL, &src.Priority); err != nil {
			return nil, apperr.Internal(err, "scanning catalog source")
		}
		entry.Sources = append(entry.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "reading catalog sources")
	}
	return entry, nil
}

// List returns every catalog entry without sources, ordered by title.
func (s *SQLiteStore) List(ctx context.Context) ([]types.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, year FROM entries ORDER BY title, id")
	if err != nil {
		return nil, apperr.Internal(err, "listing catalog entries")
	}
	defer rows.Close()

	var out []types.CatalogEntry
	for rows.Next() {
		var entry types.CatalogEntry
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Year); err != nil {
			return nil, apperr.Internal(err, "scanning catalog entry")
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "reading catalog entries")
	}
	return out, nil
}

// Upsert inserts or replaces an entry and its full source list.
func (s *SQLiteStore) Upsert(ctx context.Context, entry types.CatalogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err, "beginning catalog transaction")
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO entries (id, title, year) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET title = excluded.title, year = excluded.year",
		entry.ID, entry.Title, entry.Year)
	if err != nil {
		tx.Rollback()
		return apperr.Internal(err, "upserting catalog entry")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_sources WHERE entry_id = ?", entry.ID); err != nil {
		tx.Rollback()
		return apperr.Internal(err, "clearing catalog sources")
	}
	for _, src := range entry.Sources {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO entry_sources (entry_id, site, url, priority) VALUES (?, ?, ?, ?)",
			entry.ID, src.Site, src.URL, src.Priority)
		if err != nil {
			tx.Rollback()
			return apperr.Internal(err, "inserting catalog source")
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err, "committing catalog entry")
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// seedEntry mirrors one record of the JSON seed file.
type seedEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Sources []struct {
		Site     string `json:"site"`
		URL      string `json:"url"`
		Priority int    `json:"priority"`
	} `json:"sources"`
}

// ImportJSON loads a JSON seed file into the store. Existing entries with
// the same ID are replaced.
func (s *SQLiteStore) ImportJSON(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seeds []seedEntry
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("failed to parse seed JSON: %w", err)
	}

	for _, seed := range seeds {
		entry := types.CatalogEntry{ID: seed.ID, Title: seed.Title, Year: seed.Year}
		for _, src := range seed.Sources {
			entry.Sources = append(entry.Sources, types.CatalogSourceLink{
				Site:     src.Site,
				URL:      src.URL,
				Priority: src.Priority,
			})
		}
		if err := s.Upsert(ctx, entry); err != nil {
			return 0, err
		}
	}
	return len(seeds), nil
}

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]types.CatalogEntry
}

// NewMemory builds an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]types.CatalogEntry)}
}

// Put stores an entry, replacing any previous one with the same ID.
func (m *MemoryStore) Put(entry types.CatalogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.SliceStable(entry.Sources, func(i, j int) bool {
		return entry.Sources[i].Priority < entry.Sources[j].Priority
	})
	m.entries[entry.ID] = entry
}

// Get returns the entry for id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*types.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, apperr.NotFound("unknown content id %q", id)
	}
	out := entry
	return &out, nil
}

// List returns every entry ordered by title.
func (m *MemoryStore) List(ctx context.Context) ([]types.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.CatalogEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

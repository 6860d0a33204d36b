// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides registry persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS services (
			name                   TEXT PRIMARY KEY,
			endpoint               TEXT NOT NULL UNIQUE,
			description            TEXT NOT NULL DEFAULT '',
			requires_authorization INTEGER NOT NULL DEFAULT 0,
			auth_method            TEXT NOT NULL DEFAULT '',
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL,

			CHECK (auth_method IN ('', 'Basic', 'Bearer')),
			CHECK (requires_authorization IN (0, 1))
		);

		CREATE TABLE IF NOT EXISTS tools (
			id           TEXT PRIMARY KEY,
			service_name TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,

			UNIQUE(service_name, name)
		);

		CREATE INDEX IF NOT EXISTS idx_tools_service ON tools(service_name);

		CREATE TABLE IF NOT EXISTS roles (
			name                  TEXT PRIMARY KEY,
			default_system_prompt TEXT NOT NULL DEFAULT '',
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tool_roles (
			tool_id    TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
			role_name  TEXT NOT NULL REFERENCES roles(name) ON DELETE CASCADE,
			created_at TEXT NOT NULL,

			PRIMARY KEY (tool_id, role_name)
		);

		CREATE INDEX IF NOT EXISTS idx_tool_roles_role ON tool_roles(role_name);

		CREATE TABLE IF NOT EXISTS users (
			user_id    TEXT PRIMARY KEY,
			role_name  TEXT REFERENCES roles(name) ON DELETE SET NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_role ON users(role_name);

		CREATE TABLE IF NOT EXISTS access_tokens (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			service_name TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
			token        TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			UNIQUE(user_id, service_name)
		);

		CREATE INDEX IF NOT EXISTS idx_access_tokens_service ON access_tokens(service_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: databases created before authorization support lack the
	// requires_authorization and auth_method columns on services.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('services') WHERE name = 'requires_authorization'`,
			apply:  `ALTER TABLE services ADD COLUMN requires_authorization INTEGER NOT NULL DEFAULT 0`,
			column: "requires_authorization",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('services') WHERE name = 'auth_method'`,
			apply:  `ALTER TABLE services ADD COLUMN auth_method TEXT NOT NULL DEFAULT ''`,
			column: "auth_method",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('roles') WHERE name = 'default_system_prompt'`,
			apply:  `ALTER TABLE roles ADD COLUMN default_system_prompt TEXT NOT NULL DEFAULT ''`,
			column: "default_system_prompt",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		// Column doesn't exist, apply migration
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// formatTime renders a timestamp in the canonical column format.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a timestamp stored by formatTime.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Ensure SQLiteStore implements the combined Store interface
var _ Store = (*SQLiteStore)(nil)

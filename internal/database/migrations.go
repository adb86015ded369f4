package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create users table",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT UNIQUE NOT NULL COLLATE NOCASE,
				email TEXT UNIQUE NOT NULL COLLATE NOCASE,
				password_hash TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'viewer' CHECK(role IN ('admin', 'importer', 'viewer')),
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_login_at DATETIME
			);

			CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
		`,
	},
	{
		Version:     2,
		Description: "Create pages table",
		SQL: `
			CREATE TABLE IF NOT EXISTS pages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				wiki TEXT NOT NULL,
				space TEXT NOT NULL,
				name TEXT NOT NULL,
				slug TEXT UNIQUE NOT NULL COLLATE NOCASE,
				title TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL DEFAULT '',
				content_html TEXT NOT NULL DEFAULT '',
				syntax TEXT NOT NULL DEFAULT 'markdown/1.0',
				author_id INTEGER NOT NULL REFERENCES users(id),
				parent_id INTEGER REFERENCES pages(id) ON DELETE SET NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (wiki, space, name)
			);

			CREATE INDEX IF NOT EXISTS idx_pages_space ON pages(wiki, space);
			CREATE INDEX IF NOT EXISTS idx_pages_parent ON pages(parent_id);
			CREATE INDEX IF NOT EXISTS idx_pages_updated ON pages(updated_at DESC);
		`,
	},
	{
		Version:     3,
		Description: "Create revisions table",
		SQL: `
			CREATE TABLE IF NOT EXISTS revisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				syntax TEXT NOT NULL,
				author_id INTEGER NOT NULL REFERENCES users(id),
				comment TEXT NOT NULL DEFAULT '',
				is_minor INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (page_id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_revisions_page ON revisions(page_id, version DESC);
		`,
	},
	{
		Version:     4,
		Description: "Create tags table",
		SQL: `
			CREATE TABLE IF NOT EXISTS tags (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT UNIQUE NOT NULL COLLATE NOCASE
			);

			CREATE TABLE IF NOT EXISTS page_tags (
				page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
				PRIMARY KEY (page_id, tag_id)
			);

			CREATE INDEX IF NOT EXISTS idx_page_tags_tag ON page_tags(tag_id);
		`,
	},
	{
		Version:     5,
		Description: "Create attachments table",
		SQL: `
			CREATE TABLE IF NOT EXISTS attachments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				filename TEXT NOT NULL,
				filepath TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				size_bytes INTEGER NOT NULL,
				uploader_id INTEGER NOT NULL REFERENCES users(id),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (page_id, filename)
			);
		`,
	},
	{
		Version:     6,
		Description: "Create page properties table",
		SQL: `
			CREATE TABLE IF NOT EXISTS page_properties (
				page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				class_name TEXT NOT NULL,
				property TEXT NOT NULL,
				value TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (page_id, class_name, property)
			);
		`,
	},
	{
		Version:     7,
		Description: "Create settings table",
		SQL: `
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version:     8,
		Description: "Create import runs table",
		SQL: `
			CREATE TABLE IF NOT EXISTS import_runs (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
				source TEXT NOT NULL DEFAULT '',
				user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
				pages_seen INTEGER NOT NULL DEFAULT 0,
				pages_imported INTEGER NOT NULL DEFAULT 0,
				pages_skipped INTEGER NOT NULL DEFAULT 0,
				pages_failed INTEGER NOT NULL DEFAULT 0,
				report TEXT NOT NULL DEFAULT '{}',
				error TEXT NOT NULL DEFAULT '',
				started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				finished_at DATETIME
			);

			CREATE INDEX IF NOT EXISTS idx_import_runs_started ON import_runs(started_at DESC);
		`,
	},
}

// Migrate runs all pending migrations.
func (db *DB) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := db.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}

			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Description, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}

			return nil
		})

		if err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}

		db.log.Info("migration applied", zap.Int("version", m.Version), zap.String("description", m.Description))
	}

	return nil
}

// CurrentVersion returns the current schema version.
func (db *DB) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// LatestVersion returns the version the schema reaches after Migrate.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sort"
)

//go:embed migrations/001_initial.sql
var initialSchema string

// Migration represents a database schema migration
type Migration struct {
	SQL         string
	Description string
	Version     int
}

// migrations is the registry of all database migrations. Each migration has
// a unique version number and is applied in ascending order, transactionally,
// and recorded in schema_version.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with records, settings, and query_logs tables",
		SQL:         initialSchema,
	},
	{
		Version:     2,
		Description: "Composite index for retention cleanup and per-name log history",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_query_logs_name_timestamp
			ON query_logs(query_name, timestamp);
		`,
	},
}

// runMigrations brings the schema up to the latest registered version.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, description) VALUES (?, ?)`,
		m.Version, m.Description); err != nil {
		return err
	}

	return tx.Commit()
}

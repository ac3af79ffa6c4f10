package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// createAllTables creates the interactions table, its indexes and guards.
func createAllTables(db *sql.DB, logger *slog.Logger) error {
	tables := []struct {
		name   string
		schema string
	}{
		{
			name: "interactions",
			schema: `CREATE TABLE IF NOT EXISTS interactions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				source_address TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				method TEXT NOT NULL DEFAULT '',
				path TEXT NOT NULL DEFAULT '',
				query TEXT NOT NULL DEFAULT '',
				headers TEXT NOT NULL DEFAULT '[]',
				body_kind TEXT NOT NULL DEFAULT 'none',
				body BLOB,
				body_fields TEXT NOT NULL DEFAULT '[]',
				body_truncated INTEGER NOT NULL DEFAULT 0,
				interaction_kind TEXT NOT NULL,
				credentials TEXT NOT NULL DEFAULT '[]',
				signals TEXT NOT NULL DEFAULT '[]'
			)`,
		},
		{
			// Records are evidence: once written they are never rewritten.
			// Retention deletes are left to the operator.
			name: "interactions_no_update",
			schema: `CREATE TRIGGER IF NOT EXISTS interactions_no_update
				BEFORE UPDATE ON interactions
				BEGIN
					SELECT RAISE(ABORT, 'interactions are append-only');
				END`,
		},
	}

	for _, table := range tables {
		logger.Debug("creating schema object", "name", table.name)
		if _, err := db.Exec(table.schema); err != nil {
			return fmt.Errorf("create %s: %w", table.name, err)
		}
	}

	return createIndexes(db, logger)
}

func createIndexes(db *sql.DB, logger *slog.Logger) error {
	indexes := []struct {
		name  string
		query string
	}{
		{"idx_interactions_source", "CREATE INDEX IF NOT EXISTS idx_interactions_source ON interactions(source_address, id)"},
		{"idx_interactions_kind", "CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions(interaction_kind)"},
		{"idx_interactions_timestamp", "CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp)"},
	}

	for _, idx := range indexes {
		logger.Debug("creating index", "name", idx.name)
		if _, err := db.Exec(idx.query); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration upgrades the schema from version-1 to version.
type migration struct {
	version int
	name    string
	apply   func(db *sql.DB, logger *slog.Logger) error
}

var migrations = []migration{
	{version: 1, name: "create interactions", apply: createAllTables},
	{version: 2, name: "add raw path", apply: addRawPath},
}

func addRawPath(db *sql.DB, logger *slog.Logger) error {
	_, err := db.Exec(`ALTER TABLE interactions ADD COLUMN raw_path TEXT NOT NULL DEFAULT ''`)
	return err
}

// SchemaVersion is the schema version this build writes.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// RunMigrations brings the schema up to SchemaVersion, tracked in PRAGMA user_version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var current int
	if err := db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > SchemaVersion() {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, SchemaVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.version, "name", m.name)
		if err := m.apply(db, logger); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA does not accept bind parameters.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("record schema version %d: %w", m.version, err)
		}
	}
	return nil
}

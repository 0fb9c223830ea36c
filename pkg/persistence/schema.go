package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 1

// InitializeDatabase creates and initializes the SQLite database with the
// required schema. This function is idempotent and safe to call multiple
// times.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// initializeSchemaWithMigrations ensures the database schema is at the
// current version. The schema has one table to migrate: a second version
// would add a migration branch here the way the teacher's schema.go does
// for each of its eighteen revisions.
func initializeSchemaWithMigrations(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	if version >= CurrentSchemaVersion {
		return nil
	}
	if err := createSchema(db); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_snapshots (
			session_id    TEXT PRIMARY KEY,
			turn          INTEGER NOT NULL,
			captured_at   INTEGER NOT NULL,
			snapshot_json TEXT NOT NULL,
			updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version, or 0 if the
// database has not been initialized.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("failed to clear schema version: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

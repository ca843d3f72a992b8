package storage

import (
	"context"
	"database/sql"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		for _, create := range []func(*sql.Tx) error{
			createBlamesTable,
			createEnvironmentsTable,
			createDeploysTable,
			createBugsTable,
			createBugEventsTable,
			createOccurrencesTable,
		} {
			if err := create(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)

	// A database without a version row was created but never initialised
	if version == 0 {
		return db.initializeSchema()
	}

	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createBlamesTable creates the blame cache table. updated_at is the last
// access time used for eviction.
func createBlamesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS blames (
			repository_id TEXT NOT NULL,
			revision TEXT NOT NULL,
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			blamed_revision TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (repository_id, revision, file, line)
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_blames_updated ON blames(updated_at)`)
	return err
}

// createEnvironmentsTable creates the environments table
func createEnvironmentsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS environments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE (project_id, name)
		)
	`)
	return err
}

// createDeploysTable creates the deploys table
func createDeploysTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS deploys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			environment_id INTEGER NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
			revision TEXT NOT NULL,
			build TEXT NOT NULL DEFAULT '',
			deployed_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_deploys_env_time ON deploys(environment_id, deployed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deploys_env_revision ON deploys(environment_id, revision)`,
		`CREATE INDEX IF NOT EXISTS idx_deploys_env_build ON deploys(environment_id, build)`,
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// createBugsTable creates the bugs table. The unique expression index makes
// NULL blamed revisions and deploys compare equal, so find-or-create can rely
// on it for hosted and versioned bugs alike.
func createBugsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS bugs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			environment_id INTEGER NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
			class_name TEXT NOT NULL,
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			blamed_revision TEXT,
			deploy_id INTEGER REFERENCES deploys(id),
			revision TEXT NOT NULL,
			client TEXT NOT NULL DEFAULT '',
			message_template TEXT NOT NULL DEFAULT '',
			special_file INTEGER NOT NULL DEFAULT 0,
			fixed INTEGER NOT NULL DEFAULT 0,
			fixed_at INTEGER,
			fix_deployed INTEGER NOT NULL DEFAULT 0,
			duplicate_of INTEGER REFERENCES bugs(id) ON DELETE CASCADE,
			first_occurrence INTEGER NOT NULL,
			latest_occurrence INTEGER NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 0,
			reopened_by TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return err
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bugs_identity ON bugs(
			environment_id, class_name, file, line,
			COALESCE(blamed_revision, ''), COALESCE(deploy_id, 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bugs_env_fixed ON bugs(environment_id, fixed)`,
		`CREATE INDEX IF NOT EXISTS idx_bugs_duplicate_of ON bugs(duplicate_of)`,
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// createBugEventsTable creates the bug lifecycle event log
func createBugEventsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS bug_events (
			id TEXT PRIMARY KEY,
			bug_id INTEGER NOT NULL REFERENCES bugs(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			data_json TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_bug_events_bug ON bug_events(bug_id, created_at)`)
	return err
}

// createOccurrencesTable creates the table linking occurrences to bugs
func createOccurrencesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS occurrences (
			id TEXT PRIMARY KEY,
			bug_id INTEGER NOT NULL REFERENCES bugs(id) ON DELETE CASCADE,
			revision TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			occurred_at INTEGER NOT NULL,
			payload_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_occurrences_bug ON occurrences(bug_id, occurred_at)`)
	return err
}

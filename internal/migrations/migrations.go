package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add composite indexes for per-round sample queries",
		Up: `
			-- Per-round breakdowns (GetRoundSummary GROUP BY)
			CREATE INDEX IF NOT EXISTS idx_load_samples_round ON load_samples(run_id, round_name);

			-- Outcome filtering for failure listings
			CREATE INDEX IF NOT EXISTS idx_load_samples_outcome ON load_samples(run_id, outcome);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_load_samples_round;
			DROP INDEX IF EXISTS idx_load_samples_outcome;
		`,
	},
	{
		Version: 2,
		Name:    "Add close code breakdown index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_load_samples_error_code ON load_samples(run_id, error_code);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_load_samples_error_code;
		`,
	},
	{
		Version: 3,
		Name:    "Count rounds interrupted by cancellation",
		Up: `
			ALTER TABLE load_runs ADD COLUMN total_cancelled INTEGER DEFAULT 0;
		`,
		Down: `
			ALTER TABLE load_runs DROP COLUMN total_cancelled;
		`,
	},
}

const trackingTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const baseSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS load_runs (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_name               TEXT NOT NULL,
	plan_file               TEXT NOT NULL,
	users                   INTEGER NOT NULL DEFAULT 1,
	iterations              INTEGER NOT NULL DEFAULT 1,
	started_at              DATETIME NOT NULL,
	completed_at            DATETIME,
	status                  TEXT NOT NULL,
	total_samples           INTEGER DEFAULT 0,
	total_success           INTEGER DEFAULT 0,
	total_mismatch          INTEGER DEFAULT 0,
	total_connect_timeouts  INTEGER DEFAULT 0,
	total_response_timeouts INTEGER DEFAULT 0,
	total_errors            INTEGER DEFAULT 0,
	avg_duration_ms         REAL DEFAULT 0,
	min_duration_ms         INTEGER DEFAULT 0,
	max_duration_ms         INTEGER DEFAULT 0,
	p50_duration_ms         INTEGER DEFAULT 0,
	p95_duration_ms         INTEGER DEFAULT 0,
	p99_duration_ms         INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_load_runs_started_at ON load_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_load_runs_status ON load_runs(status);

-- one row per round a virtual user ran
CREATE TABLE IF NOT EXISTS load_samples (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        INTEGER NOT NULL REFERENCES load_runs(id) ON DELETE CASCADE,
	user_id       INTEGER NOT NULL,
	iteration     INTEGER NOT NULL,
	round_name    TEXT NOT NULL,
	timestamp     DATETIME NOT NULL,
	elapsed_ms    INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	outcome       TEXT NOT NULL,
	matched       INTEGER NOT NULL DEFAULT 0,
	reused        INTEGER NOT NULL DEFAULT 0,
	error_code    INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_load_samples_run_id ON load_samples(run_id);
CREATE INDEX IF NOT EXISTS idx_load_samples_elapsed ON load_samples(run_id, elapsed_ms);
`

// InitSchema creates the load run tables and the migration tracking table.
// Safe to call on an existing database.
func InitSchema(db *sql.DB) error {
	for _, stmt := range []string{baseSchema, trackingTable} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Run brings the database up to the latest migration
func Run(db *sql.DB) error {
	if err := InitSchema(db); err != nil {
		return err
	}

	pending, err := Pending(db)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

// Pending lists the migrations newer than the recorded version, oldest first
func Pending(db *sql.DB) ([]Migration, error) {
	current, err := GetCurrentVersion(db)
	if err != nil {
		return nil, fmt.Errorf("failed to get current migration version: %w", err)
	}

	var pending []Migration
	for _, m := range AllMigrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// apply runs one migration and records it in a single transaction
func apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.Version, err)
	}
	return tx.Commit()
}

// GetCurrentVersion returns the highest applied migration, 0 when none
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

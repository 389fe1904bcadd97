package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens (creating if needed) the sqlite database at path and ensures
// the schema exists.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("error open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error ping db: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS check_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_name TEXT NOT NULL,
		status TEXT NOT NULL,
		response_time_ms REAL,
		status_code INTEGER,
		error_message TEXT,
		ai_summary TEXT,
		checked_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_target_time ON check_outcomes(target_name, checked_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating check_outcomes table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		notification_sent INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating incidents table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS deadman_switches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		token TEXT NOT NULL UNIQUE,
		expected_interval INTEGER NOT NULL,
		severity TEXT NOT NULL,
		last_ping TIMESTAMP,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating deadman_switches table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS deadman_pings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		switch_id INTEGER NOT NULL REFERENCES deadman_switches(id) ON DELETE CASCADE,
		switch_name TEXT NOT NULL,
		pinged_at TIMESTAMP NOT NULL,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pings_switch ON deadman_pings(switch_name, pinged_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("error creating deadman_pings table: %w", err)
	}

	return db, nil
}

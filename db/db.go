// ABOUTME: Opens the local store backing offline reads and queued writes
// ABOUTME: Single-connection SQLite in WAL mode with the schema applied on open
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDatabase opens, creating if needed, the SQLite store holding
// cached resources, sync markers, and the draft queue. The schema is
// applied before the handle is returned, so callers never see a
// half-initialized store.
func OpenDatabase(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes the flush loop against the live-push
	// cache writes, so SQLITE_BUSY never surfaces between them
	database.SetMaxOpenConns(1)

	if err := InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation and initialization
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_resources (
	scope_id TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	scope_label TEXT,
	title TEXT NOT NULL,
	kind TEXT,
	url TEXT,
	description TEXT,
	payload TEXT,
	position INTEGER NOT NULL,
	cached_at DATETIME NOT NULL,
	PRIMARY KEY (scope_id, resource_id)
);

CREATE INDEX IF NOT EXISTS idx_cached_resources_scope ON cached_resources(scope_id, position);

CREATE TABLE IF NOT EXISTS sync_markers (
	scope_id TEXT PRIMARY KEY,
	synced_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL CHECK(kind IN ('discussion_post', 'message', 'resource_comment')),
	scope_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_drafts_scope ON drafts(scope_id);

CREATE TABLE IF NOT EXISTS delivery_log (
	id TEXT PRIMARY KEY,
	draft_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	delivered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(draft_id)
);

CREATE INDEX IF NOT EXISTS idx_delivery_log_scope ON delivery_log(scope_id);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

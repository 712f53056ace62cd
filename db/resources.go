// ABOUTME: Database operations for cached_resources and sync_markers tables
// ABOUTME: Implements atomic per-scope overwrite and never-failing cached reads
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/studyhall/models"
)

// GlobalSyncScope is the reserved sync_markers row recording the
// cache-wide last successful reconciliation.
const GlobalSyncScope = "*"

// ReplaceScopeResources replaces a scope's entire cached resource set and
// updates its sync marker in one transaction. Either the whole set is
// swapped or the previous set is retained.
func ReplaceScopeResources(db *sql.DB, scopeID, scopeLabel string, resources []models.CachedResource) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM cached_resources WHERE scope_id = ?`, scopeID); err != nil {
		return fmt.Errorf("failed to clear scope %s: %w", scopeID, err)
	}

	now := time.Now().UTC()
	for i, res := range resources {
		payloadJSON, err := json.Marshal(res.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal resource payload: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO cached_resources (scope_id, resource_id, scope_label, title, kind, url, description, payload, position, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, scopeID, res.ResourceID, scopeLabel, res.Title, res.Kind, res.URL, res.Description, payloadJSON, i, now)
		if err != nil {
			return fmt.Errorf("failed to insert resource %s: %w", res.ResourceID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO sync_markers (scope_id, synced_at) VALUES (?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET synced_at = excluded.synced_at
	`, scopeID, now)
	if err != nil {
		return fmt.Errorf("failed to update sync marker: %w", err)
	}

	return tx.Commit()
}

// GetScopeResources returns a scope's cached resources in their stored
// order. An unseen scope yields an empty slice, never an error row.
func GetScopeResources(db *sql.DB, scopeID string) ([]models.CachedResource, error) {
	rows, err := db.Query(`
		SELECT scope_id, resource_id, scope_label, title, kind, url, description, payload, cached_at
		FROM cached_resources
		WHERE scope_id = ?
		ORDER BY position
	`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached resources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	resources := []models.CachedResource{}
	for rows.Next() {
		var res models.CachedResource
		var scopeLabel, kind, url, description sql.NullString
		var payloadJSON []byte

		err := rows.Scan(
			&res.ScopeID,
			&res.ResourceID,
			&scopeLabel,
			&res.Title,
			&kind,
			&url,
			&description,
			&payloadJSON,
			&res.CachedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached resource: %w", err)
		}

		res.ScopeLabel = scopeLabel.String
		res.Kind = kind.String
		res.URL = url.String
		res.Description = description.String

		if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
			if err := json.Unmarshal(payloadJSON, &res.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal resource payload: %w", err)
			}
		}

		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cached resources: %w", err)
	}

	return resources, nil
}

// EvictScope removes a scope's cached resources and its sync marker.
func EvictScope(db *sql.DB, scopeID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM cached_resources WHERE scope_id = ?`, scopeID); err != nil {
		return fmt.Errorf("failed to evict scope %s: %w", scopeID, err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_markers WHERE scope_id = ?`, scopeID); err != nil {
		return fmt.Errorf("failed to remove sync marker: %w", err)
	}

	return tx.Commit()
}

// GetSyncMarker retrieves the sync marker for a scope, or nil if the
// scope has never been reconciled.
func GetSyncMarker(db *sql.DB, scopeID string) (*models.SyncMarker, error) {
	var marker models.SyncMarker

	err := db.QueryRow(`
		SELECT scope_id, synced_at FROM sync_markers WHERE scope_id = ?
	`, scopeID).Scan(&marker.ScopeID, &marker.SyncedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync marker: %w", err)
	}

	return &marker, nil
}

// TouchGlobalSyncTime records the cache-wide last successful
// reconciliation timestamp.
func TouchGlobalSyncTime(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT INTO sync_markers (scope_id, synced_at) VALUES (?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET synced_at = excluded.synced_at
	`, GlobalSyncScope, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to touch global sync time: %w", err)
	}
	return nil
}

// GetGlobalSyncTime returns the cache-wide last sync time, or nil if no
// reconciliation has ever completed.
func GetGlobalSyncTime(db *sql.DB) (*time.Time, error) {
	marker, err := GetSyncMarker(db, GlobalSyncScope)
	if err != nil {
		return nil, err
	}
	if marker == nil {
		return nil, nil
	}
	return &marker.SyncedAt, nil
}

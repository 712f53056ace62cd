// ABOUTME: Per-course resource cache with reconciliation against the backend
// ABOUTME: Live-push writes while online, never-failing cached reads while offline
package cache

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/db"
	"github.com/harperreed/studyhall/models"
)

// Backend is the slice of the document store the cache pulls from on
// reconciliation. Satisfied by *charm.Client.
type Backend interface {
	GetDocument(collection, id string, out any) error
}

// scopeDocument is the backend's wire shape for one course's resource
// list: a single document per scope, replaced wholesale by the server.
type scopeDocument struct {
	ScopeLabel string                  `json:"scope_label,omitempty"`
	Resources  []models.CachedResource `json:"resources"`
}

// Cache persists a local, per-scope copy of server-authoritative
// resource data. It owns the cached_resources and sync_markers tables
// exclusively.
type Cache struct {
	db      *sql.DB
	backend Backend
}

// NewCache creates a resource cache over the local database and the
// backend used for edge-triggered pulls.
func NewCache(database *sql.DB, backend Backend) *Cache {
	return &Cache{db: database, backend: backend}
}

// Initialize prepares local storage. Idempotent; re-running schema
// creation against existing tables is a no-op.
func (c *Cache) Initialize() error {
	if err := db.InitSchema(c.db); err != nil {
		return fmt.Errorf("failed to initialize cache storage: %w", err)
	}
	return nil
}

// CacheResources overwrites a scope's resource list wholesale and
// stamps its sync marker. Called on the online path, as a side channel
// of the live subscription. On persistence failure the previous set is
// retained untouched.
func (c *Cache) CacheResources(scopeID string, resources []models.CachedResource, scopeLabel string) error {
	if err := db.ReplaceScopeResources(c.db, scopeID, scopeLabel, resources); err != nil {
		log.Printf("cache: failed to cache %d resources for scope %s: %v", len(resources), scopeID, err)
		return err
	}
	return nil
}

// GetCachedResources is a pure local read. An unseen scope returns an
// empty slice; read failures degrade to empty rather than erroring,
// since offline viewing is strictly best-effort. Never touches the
// network.
func (c *Cache) GetCachedResources(scopeID string) []models.CachedResource {
	resources, err := db.GetScopeResources(c.db, scopeID)
	if err != nil {
		log.Printf("cache: failed to read scope %s, degrading to empty: %v", scopeID, err)
		return []models.CachedResource{}
	}
	return resources
}

// SyncFromBackend performs one explicit pull-and-overwrite cycle for a
// scope. Used on the reconnect edge, where any live subscription opened
// while offline is assumed dead until the screen layer re-arms it.
func (c *Cache) SyncFromBackend(scopeID, scopeLabel string) error {
	if c.backend == nil {
		return fmt.Errorf("no backend configured")
	}

	var doc scopeDocument
	if err := c.backend.GetDocument(charm.CollectionResources, scopeID, &doc); err != nil {
		return fmt.Errorf("failed to fetch resources for scope %s: %w", scopeID, err)
	}

	if doc.ScopeLabel == "" {
		doc.ScopeLabel = scopeLabel
	}
	if err := c.CacheResources(scopeID, doc.Resources, doc.ScopeLabel); err != nil {
		return err
	}

	return c.UpdateLastSyncTime()
}

// UpdateLastSyncTime records the coarse cache-wide reconciliation
// timestamp surfaced to the UI as a trust signal.
func (c *Cache) UpdateLastSyncTime() error {
	if err := db.TouchGlobalSyncTime(c.db); err != nil {
		log.Printf("cache: failed to update last sync time: %v", err)
		return err
	}
	return nil
}

// LastSyncTime returns the cache-wide last reconciliation time, or nil
// if nothing has ever synced.
func (c *Cache) LastSyncTime() *time.Time {
	ts, err := db.GetGlobalSyncTime(c.db)
	if err != nil {
		log.Printf("cache: failed to read last sync time: %v", err)
		return nil
	}
	return ts
}

// LastScopeSync returns when a scope last reconciled, or nil for an
// unseen scope. Staleness is informational; stale reads are never
// blocked.
func (c *Cache) LastScopeSync(scopeID string) *time.Time {
	marker, err := db.GetSyncMarker(c.db, scopeID)
	if err != nil {
		log.Printf("cache: failed to read sync marker for scope %s: %v", scopeID, err)
		return nil
	}
	if marker == nil {
		return nil
	}
	return &marker.SyncedAt
}

// EvictScope drops a scope's cached data and marker entirely.
func (c *Cache) EvictScope(scopeID string) error {
	return db.EvictScope(c.db, scopeID)
}

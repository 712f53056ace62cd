// ABOUTME: Data models for the offline resilience layer
// ABOUTME: Defines connectivity, cached resource, draft, and presence structs
package models

import (
	"time"
)

// Tristate represents a boolean whose value may be unknown, matching
// platform connectivity APIs that report reachability as indeterminate
// while a probe is still in flight.
type Tristate int

const (
	Unknown Tristate = iota
	False
	True
)

// Bool collapses a Tristate to a boolean, treating Unknown as true so
// that an indeterminate probe never forces the app offline.
func (t Tristate) Bool() bool {
	return t != False
}

// ConnectivitySnapshot is the monitor's view of device connectivity.
// It is recomputed on every probe tick and never persisted.
type ConnectivitySnapshot struct {
	IsConnected         bool      `json:"is_connected"`
	IsInternetReachable Tristate  `json:"is_internet_reachable"`
	IsOnline            bool      `json:"is_online"`
	TransportType       string    `json:"transport_type,omitempty"`
	CheckedAt           time.Time `json:"checked_at"`
}

// Transport type constants.
const (
	TransportWifi     = "wifi"
	TransportCellular = "cellular"
	TransportEthernet = "ethernet"
	TransportUnknown  = "unknown"
)

// CachedResource is one locally persisted copy of a server-authoritative
// course resource. A scope's entries are overwritten wholesale on each
// successful reconciliation, never merged.
type CachedResource struct {
	ScopeID     string         `json:"scope_id"`
	ScopeLabel  string         `json:"scope_label,omitempty"`
	ResourceID  string         `json:"resource_id"`
	Title       string         `json:"title"`
	Kind        string         `json:"kind,omitempty"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CachedAt    time.Time      `json:"cached_at"`
}

// SyncMarker records the last verified successful reconciliation for a
// scope. Staleness is informational only; stale reads are never blocked.
type SyncMarker struct {
	ScopeID  string    `json:"scope_id"`
	SyncedAt time.Time `json:"synced_at"`
}

// Draft kind constants discriminate the target write operation.
const (
	DraftDiscussionPost  = "discussion_post"
	DraftMessage         = "message"
	DraftResourceComment = "resource_comment"
)

// Draft is a locally authored write that has not been confirmed durable
// on the backend. The ID is a ULID, so lexicographic order is creation
// order and doubles as the queue's FIFO key.
type Draft struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	ScopeID      string         `json:"scope_id"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
	AttemptCount int            `json:"attempt_count"`
	LastError    string         `json:"last_error,omitempty"`
}

// FlushResult reports the per-item outcome of one draft queue flush.
type FlushResult struct {
	SyncedCount int `json:"synced_count"`
	FailedCount int `json:"failed_count"`
}

// PresenceRecord is a subject's self-reported liveness, stored on the
// backend. A process only ever writes its own subject's record.
type PresenceRecord struct {
	SubjectID string    `json:"subject_id"`
	Name      string    `json:"name,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}

// NotificationEvent is emitted to the UI when a watched peer comes
// online. At most one event is emitted per subject per service session.
type NotificationEvent struct {
	SubjectID    string `json:"subject_id"`
	SubjectName  string `json:"subject_name,omitempty"`
	ContextID    string `json:"context_id,omitempty"`
	ContextLabel string `json:"context_label,omitempty"`
}

// Presence role constants. Publishers write their own record; subscribers
// only watch a bounded peer set.
const (
	RolePublisher  = "publisher"
	RoleSubscriber = "subscriber"
)

// ABOUTME: Tests for cached resource and sync marker database operations
// ABOUTME: Covers atomic scope overwrite, ordered reads, eviction, and sync times
package db

import (
	"testing"

	"github.com/harperreed/studyhall/models"
)

func TestReplaceAndGetScopeResources(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	resources := []models.CachedResource{
		{ResourceID: "r1", Title: "Syllabus", Kind: "pdf", URL: "https://example.edu/syllabus.pdf"},
		{ResourceID: "r2", Title: "Week 1 Slides", Kind: "slides", Payload: map[string]any{"pages": float64(24)}},
	}

	if err := ReplaceScopeResources(db, "course-101", "Intro to Go", resources); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	got, err := GetScopeResources(db, "course-101")
	if err != nil {
		t.Fatalf("GetScopeResources failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 resources, got %d", len(got))
	}
	if got[0].ResourceID != "r1" || got[1].ResourceID != "r2" {
		t.Errorf("Resources out of order: %s, %s", got[0].ResourceID, got[1].ResourceID)
	}
	if got[0].ScopeLabel != "Intro to Go" {
		t.Errorf("Expected scope label 'Intro to Go', got %q", got[0].ScopeLabel)
	}
	if got[1].Payload["pages"] != float64(24) {
		t.Errorf("Payload did not round-trip: %v", got[1].Payload)
	}
	if got[0].CachedAt.IsZero() {
		t.Error("CachedAt was not set")
	}
}

func TestReplaceScopeResourcesOverwritesWholesale(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	first := []models.CachedResource{
		{ResourceID: "r1", Title: "Old"},
		{ResourceID: "r2", Title: "Gone"},
		{ResourceID: "r3", Title: "Also Gone"},
	}
	if err := ReplaceScopeResources(db, "course-101", "Intro", first); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	second := []models.CachedResource{
		{ResourceID: "r1", Title: "New"},
	}
	if err := ReplaceScopeResources(db, "course-101", "Intro", second); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	got, err := GetScopeResources(db, "course-101")
	if err != nil {
		t.Fatalf("GetScopeResources failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 resource after overwrite, got %d", len(got))
	}
	if got[0].Title != "New" {
		t.Errorf("Expected overwritten title 'New', got %q", got[0].Title)
	}
}

func TestGetScopeResourcesUnseenScope(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	got, err := GetScopeResources(db, "never-cached")
	if err != nil {
		t.Fatalf("GetScopeResources failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty slice for unseen scope, got %d resources", len(got))
	}
}

func TestScopesAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := ReplaceScopeResources(db, "course-101", "Intro", []models.CachedResource{{ResourceID: "a", Title: "A"}}); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}
	if err := ReplaceScopeResources(db, "course-202", "Advanced", []models.CachedResource{{ResourceID: "b", Title: "B"}}); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	// Overwriting one scope must not touch the other
	if err := ReplaceScopeResources(db, "course-101", "Intro", nil); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	got, err := GetScopeResources(db, "course-202")
	if err != nil {
		t.Fatalf("GetScopeResources failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected course-202 untouched, got %d resources", len(got))
	}
}

func TestSyncMarkers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	marker, err := GetSyncMarker(db, "course-101")
	if err != nil {
		t.Fatalf("GetSyncMarker failed: %v", err)
	}
	if marker != nil {
		t.Error("Expected nil marker for unseen scope")
	}

	if err := ReplaceScopeResources(db, "course-101", "Intro", nil); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	marker, err = GetSyncMarker(db, "course-101")
	if err != nil {
		t.Fatalf("GetSyncMarker failed: %v", err)
	}
	if marker == nil {
		t.Fatal("Expected sync marker after reconciliation")
	}
	if marker.SyncedAt.IsZero() {
		t.Error("SyncedAt was not set")
	}
}

func TestEvictScope(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := ReplaceScopeResources(db, "course-101", "Intro", []models.CachedResource{{ResourceID: "a", Title: "A"}}); err != nil {
		t.Fatalf("ReplaceScopeResources failed: %v", err)
	}

	if err := EvictScope(db, "course-101"); err != nil {
		t.Fatalf("EvictScope failed: %v", err)
	}

	got, err := GetScopeResources(db, "course-101")
	if err != nil {
		t.Fatalf("GetScopeResources failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no resources after eviction, got %d", len(got))
	}

	marker, err := GetSyncMarker(db, "course-101")
	if err != nil {
		t.Fatalf("GetSyncMarker failed: %v", err)
	}
	if marker != nil {
		t.Error("Expected sync marker removed on eviction")
	}
}

func TestGlobalSyncTime(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ts, err := GetGlobalSyncTime(db)
	if err != nil {
		t.Fatalf("GetGlobalSyncTime failed: %v", err)
	}
	if ts != nil {
		t.Error("Expected nil before first reconciliation")
	}

	if err := TouchGlobalSyncTime(db); err != nil {
		t.Fatalf("TouchGlobalSyncTime failed: %v", err)
	}

	ts, err = GetGlobalSyncTime(db)
	if err != nil {
		t.Fatalf("GetGlobalSyncTime failed: %v", err)
	}
	if ts == nil {
		t.Fatal("Expected global sync time after touch")
	}
}

// ABOUTME: Tests for draft queue database operations
// ABOUTME: Covers FIFO ordering, failure accounting, delivery, and discard
package db

import (
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harperreed/studyhall/models"
)

func makeDraft(t *testing.T, kind, scopeID string) *models.Draft {
	t.Helper()
	return &models.Draft{
		ID:      ulid.Make().String(),
		Kind:    kind,
		ScopeID: scopeID,
		Payload: map[string]any{"body": "hello"},
	}
}

func TestInsertAndListDrafts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	a := makeDraft(t, models.DraftDiscussionPost, "course-101")
	b := makeDraft(t, models.DraftMessage, "course-101")
	c := makeDraft(t, models.DraftResourceComment, "course-202")

	for _, d := range []*models.Draft{a, b, c} {
		if err := InsertDraft(db, d); err != nil {
			t.Fatalf("InsertDraft failed: %v", err)
		}
		// Keep ULIDs strictly increasing even on a coarse clock
		time.Sleep(2 * time.Millisecond)
	}

	drafts, err := ListDrafts(db)
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(drafts) != 3 {
		t.Fatalf("Expected 3 drafts, got %d", len(drafts))
	}

	// Oldest first
	if drafts[0].ID != a.ID || drafts[1].ID != b.ID || drafts[2].ID != c.ID {
		t.Errorf("Drafts out of creation order: %s, %s, %s", drafts[0].ID, drafts[1].ID, drafts[2].ID)
	}
	if drafts[0].Payload["body"] != "hello" {
		t.Errorf("Payload did not round-trip: %v", drafts[0].Payload)
	}
	if drafts[0].CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}
}

func TestCountDrafts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	count, err := CountDrafts(db)
	if err != nil {
		t.Fatalf("CountDrafts failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 drafts, got %d", count)
	}

	if err := InsertDraft(db, makeDraft(t, models.DraftMessage, "course-101")); err != nil {
		t.Fatalf("InsertDraft failed: %v", err)
	}

	count, err = CountDrafts(db)
	if err != nil {
		t.Fatalf("CountDrafts failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 draft, got %d", count)
	}
}

func TestRecordDraftFailure(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	draft := makeDraft(t, models.DraftMessage, "course-101")
	if err := InsertDraft(db, draft); err != nil {
		t.Fatalf("InsertDraft failed: %v", err)
	}

	if err := RecordDraftFailure(db, draft.ID, "backend unavailable"); err != nil {
		t.Fatalf("RecordDraftFailure failed: %v", err)
	}

	drafts, err := ListDrafts(db)
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if drafts[0].AttemptCount != 1 {
		t.Errorf("Expected attempt count 1, got %d", drafts[0].AttemptCount)
	}
	if drafts[0].LastError != "backend unavailable" {
		t.Errorf("Expected last error recorded, got %q", drafts[0].LastError)
	}
}

func TestUpdateDraftPayloadOnlyBeforeFirstAttempt(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	draft := makeDraft(t, models.DraftMessage, "course-101")
	if err := InsertDraft(db, draft); err != nil {
		t.Fatalf("InsertDraft failed: %v", err)
	}

	if err := UpdateDraftPayload(db, draft.ID, map[string]any{"body": "edited"}); err != nil {
		t.Fatalf("UpdateDraftPayload failed: %v", err)
	}

	if err := RecordDraftFailure(db, draft.ID, "boom"); err != nil {
		t.Fatalf("RecordDraftFailure failed: %v", err)
	}

	err := UpdateDraftPayload(db, draft.ID, map[string]any{"body": "too late"})
	if !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Expected ErrDraftNotFound after first attempt, got %v", err)
	}

	drafts, err := ListDrafts(db)
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if drafts[0].Payload["body"] != "edited" {
		t.Errorf("Expected payload 'edited' preserved, got %v", drafts[0].Payload["body"])
	}
}

func TestMarkDraftDelivered(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	draft := makeDraft(t, models.DraftDiscussionPost, "course-101")
	if err := InsertDraft(db, draft); err != nil {
		t.Fatalf("InsertDraft failed: %v", err)
	}

	if err := MarkDraftDelivered(db, draft); err != nil {
		t.Fatalf("MarkDraftDelivered failed: %v", err)
	}

	count, err := CountDrafts(db)
	if err != nil {
		t.Fatalf("CountDrafts failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected draft removed after delivery, got %d", count)
	}

	delivered, err := CheckDelivered(db, draft.ID)
	if err != nil {
		t.Fatalf("CheckDelivered failed: %v", err)
	}
	if !delivered {
		t.Error("Expected delivery logged")
	}
}

func TestDeleteDraft(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	draft := makeDraft(t, models.DraftMessage, "course-101")
	if err := InsertDraft(db, draft); err != nil {
		t.Fatalf("InsertDraft failed: %v", err)
	}

	if err := DeleteDraft(db, draft.ID); err != nil {
		t.Fatalf("DeleteDraft failed: %v", err)
	}

	if err := DeleteDraft(db, draft.ID); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Expected ErrDraftNotFound on double delete, got %v", err)
	}
}

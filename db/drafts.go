// ABOUTME: Database operations for the drafts and delivery_log tables
// ABOUTME: Manages pending write persistence, failure accounting, and delivery auditing
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/studyhall/models"
)

var ErrDraftNotFound = errors.New("draft not found")

// InsertDraft persists a new draft. The caller is responsible for
// assigning a ULID id; creation order is the queue's delivery order.
func InsertDraft(db *sql.DB, draft *models.Draft) error {
	payloadJSON, err := json.Marshal(draft.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal draft payload: %w", err)
	}

	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}

	_, err = db.Exec(`
		INSERT INTO drafts (id, kind, scope_id, payload, created_at, attempt_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, draft.ID, draft.Kind, draft.ScopeID, payloadJSON, draft.CreatedAt, draft.AttemptCount, nullIfEmpty(draft.LastError))

	if err != nil {
		return fmt.Errorf("failed to insert draft: %w", err)
	}

	return nil
}

// ListDrafts returns all pending drafts oldest first. ULID ids sort
// lexicographically by creation time, so ordering by id is FIFO.
func ListDrafts(db *sql.DB) ([]models.Draft, error) {
	rows, err := db.Query(`
		SELECT id, kind, scope_id, payload, created_at, attempt_count, last_error
		FROM drafts
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	drafts := []models.Draft{}
	for rows.Next() {
		var draft models.Draft
		var payloadJSON []byte
		var lastError sql.NullString

		err := rows.Scan(
			&draft.ID,
			&draft.Kind,
			&draft.ScopeID,
			&payloadJSON,
			&draft.CreatedAt,
			&draft.AttemptCount,
			&lastError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}

		if err := json.Unmarshal(payloadJSON, &draft.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draft payload: %w", err)
		}
		draft.LastError = lastError.String

		drafts = append(drafts, draft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drafts: %w", err)
	}

	return drafts, nil
}

// CountDrafts returns the number of pending drafts. Cheap local check
// used to gate the periodic flush.
func CountDrafts(db *sql.DB) (int, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM drafts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count drafts: %w", err)
	}
	return count, nil
}

// UpdateDraftPayload replaces a draft's payload. Only the original
// author edits a draft, and only before its first flush attempt.
func UpdateDraftPayload(db *sql.DB, id string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal draft payload: %w", err)
	}

	result, err := db.Exec(`UPDATE drafts SET payload = ? WHERE id = ? AND attempt_count = 0`, payloadJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrDraftNotFound
	}

	return nil
}

// RecordDraftFailure increments a draft's attempt count and records the
// most recent error.
func RecordDraftFailure(db *sql.DB, id, errMsg string) error {
	_, err := db.Exec(`
		UPDATE drafts SET attempt_count = attempt_count + 1, last_error = ? WHERE id = ?
	`, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to record draft failure: %w", err)
	}
	return nil
}

// DeleteDraft removes a draft, used both on terminal success and on
// explicit user discard.
func DeleteDraft(db *sql.DB, id string) error {
	result, err := db.Exec(`DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrDraftNotFound
	}

	return nil
}

// MarkDraftDelivered removes a delivered draft and records the delivery
// in one transaction, so a crash mid-flush cannot double-send.
func MarkDraftDelivered(db *sql.DB, draft *models.Draft) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM drafts WHERE id = ?`, draft.ID); err != nil {
		return fmt.Errorf("failed to remove delivered draft: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO delivery_log (id, draft_id, kind, scope_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(draft_id) DO NOTHING
	`, uuid.New().String(), draft.ID, draft.Kind, draft.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to log delivery: %w", err)
	}

	return tx.Commit()
}

// CheckDelivered reports whether a draft id has already been delivered.
func CheckDelivered(db *sql.DB, draftID string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM delivery_log WHERE draft_id = ?`, draftID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery log: %w", err)
	}
	return count > 0, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

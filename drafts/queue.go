// ABOUTME: Pending-write draft queue with serial FIFO flush and retry accounting
// ABOUTME: Coalesces overlapping flush triggers and retains failed drafts until discard
package drafts

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harperreed/studyhall/db"
	"github.com/harperreed/studyhall/models"
)

// DefaultFlushInterval is the periodic online flush cadence.
const DefaultFlushInterval = 30 * time.Second

// ErrFlushInProgress reports that a flush was coalesced into one
// already running. Background triggers ignore it; interactive callers
// can tell the user a sync is underway instead of claiming zero work.
var ErrFlushInProgress = errors.New("a draft flush is already in progress")

// Sender delivers one draft to the backend. Draft ids are stable across
// retries, so implementations may rely on them for idempotence.
type Sender interface {
	Send(draft models.Draft) error
}

// Queue owns locally authored writes from creation until terminal
// success or explicit discard. The persisted list is owned exclusively
// by this component.
type Queue struct {
	db     *sql.DB
	sender Sender

	// flushMu is the single in-flight guard: overlapping triggers
	// coalesce into a no-op instead of running concurrently, which
	// could double-send a draft.
	flushMu  sync.Mutex
	flushing bool

	stopOnce sync.Once
	done     chan struct{}
	started  bool
	startMu  sync.Mutex
}

// NewQueue creates a draft queue over the local database and sender.
func NewQueue(database *sql.DB, sender Sender) *Queue {
	return &Queue{
		db:     database,
		sender: sender,
		done:   make(chan struct{}),
	}
}

// Enqueue persists a new draft. The ULID id is generated here and stays
// stable for the draft's whole life.
func (q *Queue) Enqueue(kind, scopeID string, payload map[string]any) (*models.Draft, error) {
	draft := &models.Draft{
		ID:        ulid.Make().String(),
		Kind:      kind,
		ScopeID:   scopeID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertDraft(q.db, draft); err != nil {
		return nil, fmt.Errorf("failed to enqueue draft: %w", err)
	}
	return draft, nil
}

// GetPendingDrafts returns all queued, not-yet-confirmed writes oldest
// first. Creation order is the delivery order; there is no priority.
func (q *Queue) GetPendingDrafts() ([]models.Draft, error) {
	return db.ListDrafts(q.db)
}

// PendingCount is the cheap local check that gates the periodic flush's
// backend call.
func (q *Queue) PendingCount() int {
	count, err := db.CountDrafts(q.db)
	if err != nil {
		log.Printf("drafts: failed to count pending drafts: %v", err)
		return 0
	}
	return count
}

// UpdatePayload lets the original author edit a draft before its first
// flush attempt.
func (q *Queue) UpdatePayload(id string, payload map[string]any) error {
	return db.UpdateDraftPayload(q.db, id, payload)
}

// Discard removes a draft without sending it. The only way a failing
// draft ever leaves the queue.
func (q *Queue) Discard(id string) error {
	return db.DeleteDraft(q.db, id)
}

// SyncAllDrafts flushes every pending draft strictly in queue order,
// serially. A failed item is retained with its attempt count and last
// error updated, and the loop continues; one poisoned draft never
// blocks the rest. If a flush is already in progress the call is a
// no-op returning ErrFlushInProgress.
func (q *Queue) SyncAllDrafts() (models.FlushResult, error) {
	q.flushMu.Lock()
	if q.flushing {
		q.flushMu.Unlock()
		return models.FlushResult{}, ErrFlushInProgress
	}
	q.flushing = true
	q.flushMu.Unlock()

	defer func() {
		q.flushMu.Lock()
		q.flushing = false
		q.flushMu.Unlock()
	}()

	pending, err := db.ListDrafts(q.db)
	if err != nil {
		return models.FlushResult{}, fmt.Errorf("failed to list pending drafts: %w", err)
	}

	var result models.FlushResult
	for _, draft := range pending {
		if err := q.sender.Send(draft); err != nil {
			result.FailedCount++
			if dbErr := db.RecordDraftFailure(q.db, draft.ID, err.Error()); dbErr != nil {
				log.Printf("drafts: failed to record failure for %s: %v", draft.ID, dbErr)
			}
			continue
		}

		// Remove before moving on so a crash mid-flush cannot double-send
		if err := db.MarkDraftDelivered(q.db, &draft); err != nil {
			log.Printf("drafts: delivered %s but failed to remove it: %v", draft.ID, err)
			result.FailedCount++
			continue
		}
		result.SyncedCount++
	}

	return result, nil
}

// StartPeriodicFlush runs the online timer trigger: every interval,
// while online and with drafts pending, kick a flush. The local pending
// check gates the expensive backend call.
func (q *Queue) StartPeriodicFlush(interval time.Duration, online func() bool) {
	q.startMu.Lock()
	if q.started {
		q.startMu.Unlock()
		return
	}
	q.started = true
	q.startMu.Unlock()

	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.done:
				return
			case <-ticker.C:
				if online != nil && !online() {
					continue
				}
				if q.PendingCount() == 0 {
					continue
				}
				if result, err := q.SyncAllDrafts(); errors.Is(err, ErrFlushInProgress) {
					continue
				} else if err != nil {
					log.Printf("drafts: periodic flush failed: %v", err)
				} else if result.SyncedCount > 0 || result.FailedCount > 0 {
					log.Printf("drafts: periodic flush synced %d, failed %d", result.SyncedCount, result.FailedCount)
				}
			}
		}
	}()
}

// Stop tears down the periodic timer so it never fires against a
// signed-out session. Safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.done) })
}

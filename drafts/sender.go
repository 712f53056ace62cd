// ABOUTME: Backend sender delivering drafts to their target collections
// ABOUTME: Maps draft kinds to document writes keyed by the draft's stable id
package drafts

import (
	"fmt"
	"time"

	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/models"
)

// DocumentWriter is the slice of the document store the sender needs.
// Satisfied by *charm.Client.
type DocumentWriter interface {
	SetDocument(collection, id string, doc any) error
}

// BackendSender writes drafts as documents. The document id is the
// draft's ULID, so a retried send overwrites its own earlier write
// instead of duplicating it.
type BackendSender struct {
	Backend DocumentWriter
}

func collectionFor(kind string) (string, error) {
	switch kind {
	case models.DraftDiscussionPost:
		return charm.CollectionDiscussions, nil
	case models.DraftMessage:
		return charm.CollectionMessages, nil
	case models.DraftResourceComment:
		return charm.CollectionComments, nil
	default:
		return "", fmt.Errorf("unknown draft kind %q", kind)
	}
}

// Send delivers one draft. Errors are reported back to the queue for
// retry accounting; transient and permanent failures are not
// distinguished here.
func (s *BackendSender) Send(draft models.Draft) error {
	collection, err := collectionFor(draft.Kind)
	if err != nil {
		return err
	}

	doc := map[string]any{
		"scope_id":   draft.ScopeID,
		"payload":    draft.Payload,
		"created_at": draft.CreatedAt.Format(time.RFC3339),
	}
	if err := s.Backend.SetDocument(collection, draft.ID, doc); err != nil {
		return fmt.Errorf("failed to deliver %s draft: %w", draft.Kind, err)
	}
	return nil
}

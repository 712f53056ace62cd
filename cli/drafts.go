// ABOUTME: Draft queue CLI commands for listing, syncing, and discarding drafts
// ABOUTME: Surfaces flush results as counts, never as hard errors
package cli

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/db"
	"github.com/harperreed/studyhall/drafts"
)

// DraftsCommand routes the drafts subcommands.
func DraftsCommand(database *sql.DB, client *charm.Client, args []string) error {
	if len(args) == 0 {
		return DraftsListCommand(database, nil)
	}

	switch args[0] {
	case "list":
		return DraftsListCommand(database, args[1:])
	case "sync":
		return DraftsSyncCommand(database, client, args[1:])
	case "discard":
		return DraftsDiscardCommand(database, args[1:])
	default:
		return fmt.Errorf("unknown drafts command %q (want list, sync, or discard)", args[0])
	}
}

// DraftsListCommand prints pending drafts oldest first.
func DraftsListCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("drafts list", flag.ExitOnError)
	_ = fs.Parse(args)

	pending, err := db.ListDrafts(database)
	if err != nil {
		return fmt.Errorf("failed to list drafts: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending drafts")
		return nil
	}

	for _, draft := range pending {
		line := fmt.Sprintf("%s  %-16s  %s  created %s",
			draft.ID, draft.Kind, draft.ScopeID, draft.CreatedAt.Local().Format("2006-01-02 15:04"))
		if draft.AttemptCount > 0 {
			line += fmt.Sprintf("  (%d failed attempts: %s)", draft.AttemptCount, draft.LastError)
		}
		fmt.Println(line)
	}
	return nil
}

// DraftsSyncCommand flushes the queue once and reports counts.
func DraftsSyncCommand(database *sql.DB, client *charm.Client, args []string) error {
	fs := flag.NewFlagSet("drafts sync", flag.ExitOnError)
	_ = fs.Parse(args)

	queue := drafts.NewQueue(database, &drafts.BackendSender{Backend: client})
	defer queue.Stop()

	result, err := queue.SyncAllDrafts()
	if errors.Is(err, drafts.ErrFlushInProgress) {
		fmt.Println("A sync is already running; drafts will be delivered by it")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to flush drafts: %w", err)
	}

	fmt.Printf("✓ %d drafts synced", result.SyncedCount)
	if result.FailedCount > 0 {
		fmt.Printf(", %d failed (retained for retry)", result.FailedCount)
	}
	fmt.Println()
	return nil
}

// DraftsDiscardCommand removes a draft without sending it.
func DraftsDiscardCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("drafts discard", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("usage: studyhall drafts discard <draft-id>")
	}

	id := fs.Arg(0)
	if err := db.DeleteDraft(database, id); err != nil {
		if errors.Is(err, db.ErrDraftNotFound) {
			return fmt.Errorf("no draft with id %s", id)
		}
		return fmt.Errorf("failed to discard draft: %w", err)
	}

	fmt.Printf("✓ Discarded draft %s\n", id)
	return nil
}

// ABOUTME: Status CLI command showing connectivity, cache freshness, and queue depth
// ABOUTME: Reads only local state plus one connectivity probe
package cli

import (
	"database/sql"
	"flag"
	"fmt"

	"github.com/harperreed/studyhall/cache"
	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/db"
)

// StatusCommand prints connectivity, the cache-wide last sync time, and
// the pending draft count.
func StatusCommand(database *sql.DB, client *charm.Client, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	scope := fs.String("course", "", "Also show cache freshness for one course")
	_ = fs.Parse(args)

	if client.IsConnected() {
		fmt.Println("● Online")
	} else {
		fmt.Println("○ Offline (working from cache)")
	}

	c := cache.NewCache(database, client)
	if ts := c.LastSyncTime(); ts != nil {
		fmt.Printf("Data as of %s\n", ts.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Data as of: never synced")
	}

	if *scope != "" {
		if ts := c.LastScopeSync(*scope); ts != nil {
			fmt.Printf("Course %s last synced %s (%d resources cached)\n",
				*scope, ts.Local().Format("2006-01-02 15:04:05"), len(c.GetCachedResources(*scope)))
		} else {
			fmt.Printf("Course %s has never synced\n", *scope)
		}
	}

	count, err := db.CountDrafts(database)
	if err != nil {
		return fmt.Errorf("failed to count drafts: %w", err)
	}
	switch count {
	case 0:
		fmt.Println("No pending drafts")
	case 1:
		fmt.Println("1 pending draft")
	default:
		fmt.Printf("%d pending drafts\n", count)
	}

	return nil
}

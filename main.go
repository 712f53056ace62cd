// ABOUTME: Entry point for the studyhall resilience layer CLI
// ABOUTME: Routes to status, drafts, daemon, and tui commands based on arguments
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/harperreed/studyhall/app"
	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/cli"
	"github.com/harperreed/studyhall/db"
)

const version = "0.1.0"

func main() {
	// Optional .env for CHARM_HOST / STUDYHALL_* overrides
	_ = godotenv.Load()

	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/studyhall/studyhall.db)")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	// Handle version flag
	if *showVersion {
		fmt.Printf("studyhall version %s\n", version)
		os.Exit(0)
	}

	// Get remaining args after flags
	args := flag.Args()

	// If no command specified, show usage
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]
	commandArgs := args[1:]

	cfg, err := charm.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load charm config: %v", err)
	}
	client, err := charm.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to backend: %v", err)
	}
	defer client.Close()

	switch command {
	case "status":
		database, err := db.OpenDatabase(getDatabasePath(*dbPath))
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()

		if err := cli.StatusCommand(database, client, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}

	case "drafts":
		database, err := db.OpenDatabase(getDatabasePath(*dbPath))
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()

		if err := cli.DraftsCommand(database, client, commandArgs); err != nil {
			log.Fatalf("Error: %v", err)
		}

	case "daemon":
		if err := cli.DaemonCommand(client, commandArgs); err != nil {
			log.Fatalf("Daemon failed: %v", err)
		}

	case "tui":
		if err := cli.TuiCommand(client, commandArgs); err != nil {
			log.Fatalf("Dashboard failed: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func getDatabasePath(dbPath string) string {
	if dbPath != "" {
		return dbPath
	}
	return app.DefaultConfig().DatabasePath
}

func printUsage() {
	fmt.Printf(`studyhall v%s - Local-first resilience layer for course clients

USAGE:
  studyhall [global flags] <command> [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/studyhall/studyhall.db)

COMMANDS:
  status                 Show connectivity, cache freshness, and pending drafts
    --course <id>          Also show the course's last reconcile time

  drafts list            List queued drafts oldest first
  drafts sync            Flush queued drafts to the backend now
  drafts discard <id>    Remove a queued draft without sending it

  daemon                 Run the full service stack until interrupted
    --subject <id>         Subject id for this session (required)
    --name <name>          Display name for presence
    --role <role>          publisher or subscriber (default: subscriber)
    --peers <ids>          Comma-separated peer ids to watch
    --courses <ids>        Comma-separated course ids to keep reconciled
    --interval <dur>       Draft flush interval (default: 30s, minimum: 5s)

  tui                    Interactive status dashboard
    --subject <id>         Subject id for this session (required)
    --name <name>          Display name for presence
    --role <role>          publisher or subscriber (default: subscriber)
    --peers <ids>          Comma-separated peer ids to watch
    --courses <ids>        Comma-separated course ids to keep reconciled

EXAMPLES:
  # Check what state the local cache is in
  studyhall status --course course-101

  # Queue maintenance while offline
  studyhall drafts list
  studyhall drafts sync

  # Run as an instructor publishing presence
  studyhall daemon --subject teacher-1 --name "Prof. Gopher" --role publisher --courses course-101

  # Watch classmates from the dashboard
  studyhall tui --subject student-7 --peers teacher-1 --courses course-101

`, version)
}

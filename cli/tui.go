// ABOUTME: TUI CLI command launching the status dashboard over the service stack
// ABOUTME: Shares the daemon's subject/role/peers/courses flag parsing
package cli

import (
	"flag"
	"fmt"

	"github.com/harperreed/studyhall/app"
	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/models"
	"github.com/harperreed/studyhall/tui"
)

// TuiCommand runs the interactive dashboard until the user quits.
func TuiCommand(client *charm.Client, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	subject := fs.String("subject", "", "Subject id for this session (required)")
	name := fs.String("name", "", "Display name for presence")
	role := fs.String("role", models.RoleSubscriber, "Presence role: publisher or subscriber")
	peersFlag := fs.String("peers", "", "Comma-separated peer ids to watch (subscriber role)")
	courses := fs.String("courses", "", "Comma-separated course ids to keep reconciled")
	_ = fs.Parse(args)

	if *subject == "" {
		return fmt.Errorf("missing required -subject flag")
	}
	if err := validateRole(*role); err != nil {
		return err
	}

	services, err := app.Initialize(client, app.DefaultConfig(), *subject, *name, *role, parsePeers(*peersFlag))
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.Cleanup()

	for _, course := range splitList(*courses) {
		services.TrackScope(course, "")
	}

	return tui.Run(services)
}

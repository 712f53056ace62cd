// ABOUTME: Daemon CLI command running the full resilience stack until interrupted
// ABOUTME: Parses role, subject, peer, and interval flags with validation
package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harperreed/studyhall/app"
	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/models"
	"github.com/harperreed/studyhall/presence"
)

// MinFlushInterval guards against hammering the backend with flushes.
const MinFlushInterval = 5 * time.Second

// DaemonCommand runs monitor, cache, draft, and presence services in
// the foreground until SIGINT/SIGTERM.
func DaemonCommand(client *charm.Client, args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	subject := fs.String("subject", "", "Subject id for this session (required)")
	name := fs.String("name", "", "Display name for presence")
	role := fs.String("role", models.RoleSubscriber, "Presence role: publisher or subscriber")
	peersFlag := fs.String("peers", "", "Comma-separated peer ids to watch (subscriber role)")
	courses := fs.String("courses", "", "Comma-separated course ids to keep reconciled")
	interval := fs.String("interval", "30s", "Draft flush interval (minimum 5s)")
	_ = fs.Parse(args)

	if *subject == "" {
		return fmt.Errorf("missing required -subject flag")
	}
	if err := validateRole(*role); err != nil {
		return err
	}
	flushInterval, err := parseFlushInterval(*interval)
	if err != nil {
		return err
	}

	cfg := app.DefaultConfig()
	cfg.FlushInterval = flushInterval

	services, err := app.Initialize(client, cfg, *subject, *name, *role, parsePeers(*peersFlag))
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.Cleanup()

	for _, course := range splitList(*courses) {
		services.TrackScope(course, "")
	}

	unsubscribe := services.Presence.OnPeerOnline(func(e models.NotificationEvent) {
		name := e.SubjectName
		if name == "" {
			name = e.SubjectID
		}
		log.Printf("daemon: %s is now online", name)
	})
	defer unsubscribe()

	log.Printf("daemon: running as %s (%s), flush interval %s", *subject, *role, flushInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("daemon: received %s, shutting down", sig)

	return nil
}

func validateRole(role string) error {
	switch role {
	case models.RolePublisher, models.RoleSubscriber:
		return nil
	default:
		return fmt.Errorf("invalid role %q (want %s or %s)", role, models.RolePublisher, models.RoleSubscriber)
	}
}

func parseFlushInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if d < MinFlushInterval {
		return 0, fmt.Errorf("interval %s below minimum %s", d, MinFlushInterval)
	}
	return d, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePeers(s string) []presence.Peer {
	var peers []presence.Peer
	for _, id := range splitList(s) {
		peers = append(peers, presence.Peer{SubjectID: id})
	}
	return peers
}

// ABOUTME: Aggregate configuration for the resilience layer services
// ABOUTME: Resolves the local database path and tuning intervals with env overrides
package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/harperreed/studyhall/charm"
)

// Config collects the tuning knobs of all four services.
type Config struct {
	// DatabasePath is where local cache and draft state lives.
	DatabasePath string

	// ProbeInterval is the connectivity poll cadence.
	ProbeInterval time.Duration

	// PulseWindow is how long the reconnect pulse stays observable.
	PulseWindow time.Duration

	// FlushInterval is the periodic online draft flush cadence.
	FlushInterval time.Duration

	// PresenceDebounce is the backgrounding grace window.
	PresenceDebounce time.Duration
}

// DefaultConfig returns the production defaults. STUDYHALL_DB_PATH
// overrides the database location.
func DefaultConfig() Config {
	dbPath := filepath.Join(xdg.DataHome, charm.AppName, "studyhall.db")
	if env := os.Getenv("STUDYHALL_DB_PATH"); env != "" {
		dbPath = env
	}

	return Config{
		DatabasePath:  dbPath,
		ProbeInterval: 10 * time.Second,
		PulseWindow:   time.Second,
		FlushInterval: 30 * time.Second,
	}
}

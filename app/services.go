// ABOUTME: Composition root owning the four resilience services for one session
// ABOUTME: Wires reconnect, timer, and lifecycle triggers and handles init/cleanup
package app

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/harperreed/studyhall/cache"
	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/db"
	"github.com/harperreed/studyhall/drafts"
	"github.com/harperreed/studyhall/models"
	"github.com/harperreed/studyhall/netmon"
	"github.com/harperreed/studyhall/presence"
)

// trackedScope is one course the session is actively viewing: it gets a
// live-push subscription while online and an edge-triggered pull on
// every reconnect.
type trackedScope struct {
	label       string
	cancelWatch func()
}

// Services is the process-wide owner of the resilience layer for one
// authenticated session. Construct with Initialize after login, tear
// down with Cleanup on logout, and inject into the UI layer.
type Services struct {
	Backend  *charm.Client
	Monitor  *netmon.Monitor
	Cache    *cache.Cache
	Drafts   *drafts.Queue
	Presence *presence.Service

	cfg      Config
	database *sql.DB
	ownsDB   bool

	mu          sync.Mutex
	scopes      map[string]*trackedScope
	cleanedUp   bool
	unsubscribe []func()
}

// Initialize builds and starts the full stack for one session. The
// role decides whether presence publishes (teacher) or subscribes to
// the peer set (student watching enrolled-course teachers).
func Initialize(backend *charm.Client, cfg Config, subjectID, subjectName, role string, peers []presence.Peer) (*Services, error) {
	database, err := db.OpenDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	s, err := initializeWithDB(backend, cfg, database, subjectID, subjectName, role, peers)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// InitializeWithDB is Initialize over an already-open database. The
// caller keeps ownership of the handle. Used by tests and by callers
// sharing the database with other subsystems.
func InitializeWithDB(backend *charm.Client, cfg Config, database *sql.DB, subjectID, subjectName, role string, peers []presence.Peer) (*Services, error) {
	return initializeWithDB(backend, cfg, database, subjectID, subjectName, role, peers)
}

func initializeWithDB(backend *charm.Client, cfg Config, database *sql.DB, subjectID, subjectName, role string, peers []presence.Peer) (*Services, error) {
	s := &Services{
		Backend:  backend,
		cfg:      cfg,
		database: database,
		scopes:   map[string]*trackedScope{},
	}

	s.Cache = cache.NewCache(database, backend)
	if err := s.Cache.Initialize(); err != nil {
		return nil, err
	}

	s.Drafts = drafts.NewQueue(database, &drafts.BackendSender{Backend: backend})

	s.Presence = presence.NewService(backend, subjectID, subjectName, presence.Config{
		Debounce: cfg.PresenceDebounce,
	})
	if err := s.Presence.Initialize(role, peers); err != nil {
		return nil, fmt.Errorf("failed to initialize presence: %w", err)
	}

	s.Monitor = netmon.NewMonitor(&netmon.BackendProber{Backend: backend}, netmon.Config{
		ProbeInterval: cfg.ProbeInterval,
		PulseWindow:   cfg.PulseWindow,
	})

	// Reconnect edge: reconcile every tracked scope and flush drafts.
	// The queue's in-flight guard coalesces this with the timer and
	// foreground triggers.
	s.unsubscribe = append(s.unsubscribe, s.Monitor.OnReconnect(func() {
		s.Presence.HandleNetworkRestored()
		go s.reconcile()
	}))

	// Connectivity loss short-circuits presence straight to offline.
	s.unsubscribe = append(s.unsubscribe, s.Monitor.OnChange(func(snap models.ConnectivitySnapshot) {
		if !snap.IsOnline {
			s.Presence.HandleNetworkLost()
		}
	}))

	s.Monitor.Start()
	s.Drafts.StartPeriodicFlush(cfg.FlushInterval, s.Monitor.IsOnline)

	return s, nil
}

func (s *Services) reconcile() {
	s.mu.Lock()
	type pending struct{ id, label string }
	scopes := make([]pending, 0, len(s.scopes))
	for id, scope := range s.scopes {
		scopes = append(scopes, pending{id, scope.label})
	}
	s.mu.Unlock()

	for _, scope := range scopes {
		if err := s.Cache.SyncFromBackend(scope.id, scope.label); err != nil {
			log.Printf("app: reconnect reconciliation failed for scope %s: %v", scope.id, err)
		}
	}

	if result, err := s.Drafts.SyncAllDrafts(); errors.Is(err, drafts.ErrFlushInProgress) {
		// Another trigger is already draining the queue
	} else if err != nil {
		log.Printf("app: reconnect draft flush failed: %v", err)
	} else if result.SyncedCount > 0 || result.FailedCount > 0 {
		log.Printf("app: reconnect flush synced %d drafts, %d failed", result.SyncedCount, result.FailedCount)
	}
}

// TrackScope registers a course as actively viewed: while online, a
// live subscription pushes every server update into the cache; on each
// reconnect edge the scope is re-pulled explicitly, since a
// subscription opened while offline is assumed dead.
func (s *Services) TrackScope(scopeID, label string) {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return
	}
	if _, ok := s.scopes[scopeID]; ok {
		s.mu.Unlock()
		return
	}
	scope := &trackedScope{label: label}
	s.scopes[scopeID] = scope
	s.mu.Unlock()

	cancel := s.Backend.WatchDocument(charm.CollectionResources, scopeID, func(raw json.RawMessage) {
		var doc struct {
			ScopeLabel string                  `json:"scope_label,omitempty"`
			Resources  []models.CachedResource `json:"resources"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			log.Printf("app: unreadable resource document for scope %s: %v", scopeID, err)
			return
		}
		if doc.ScopeLabel == "" {
			doc.ScopeLabel = label
		}
		if err := s.Cache.CacheResources(scopeID, doc.Resources, doc.ScopeLabel); err == nil {
			_ = s.Cache.UpdateLastSyncTime()
		}
	})

	s.mu.Lock()
	if current, ok := s.scopes[scopeID]; ok && current == scope {
		scope.cancelWatch = cancel
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	cancel()
}

// UntrackScope detaches a course's live subscription. Cached data is
// retained for offline viewing.
func (s *Services) UntrackScope(scopeID string) {
	s.mu.Lock()
	scope, ok := s.scopes[scopeID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.scopes, scopeID)
	cancel := scope.cancelWatch
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// HandleForeground is the app-foreground platform event: presence
// reverts or re-publishes, connectivity is re-checked, and pending
// drafts are flushed if online.
func (s *Services) HandleForeground() {
	s.Presence.HandleForeground()
	s.Monitor.CheckNow()
	if s.Monitor.IsOnline() && s.Drafts.PendingCount() > 0 {
		go func() {
			if _, err := s.Drafts.SyncAllDrafts(); err != nil && !errors.Is(err, drafts.ErrFlushInProgress) {
				log.Printf("app: foreground draft flush failed: %v", err)
			}
		}()
	}
}

// HandleBackground is the app-background platform event.
func (s *Services) HandleBackground() {
	s.Presence.HandleBackground()
}

// Cleanup tears the whole session down: timers, watches, presence, and
// the database if this instance opened it. Idempotent.
func (s *Services) Cleanup() {
	s.mu.Lock()
	if s.cleanedUp {
		s.mu.Unlock()
		return
	}
	s.cleanedUp = true
	scopes := s.scopes
	s.scopes = map[string]*trackedScope{}
	subs := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	for _, scope := range scopes {
		if scope.cancelWatch != nil {
			scope.cancelWatch()
		}
	}

	s.Monitor.Stop()
	s.Drafts.Stop()
	s.Presence.Cleanup()

	if s.ownsDB {
		if err := s.database.Close(); err != nil {
			log.Printf("app: failed to close local database: %v", err)
		}
	}
}

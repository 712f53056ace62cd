// ABOUTME: Presence service state machine with debounced backgrounding
// ABOUTME: Publishes own liveness and manages transitions across network and app lifecycle events
package presence

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/models"
)

// DefaultDebounce is how long the app may stay backgrounded before the
// subject is marked offline.
const DefaultDebounce = 30 * time.Second

// State is the service's lifecycle state, exposed for direct testing
// without waiting on real timers.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateBackgrounded
	StateOffline
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateBackgrounded:
		return "backgrounded"
	case StateOffline:
		return "offline"
	case StateCleanedUp:
		return "cleaned-up"
	default:
		return "unknown"
	}
}

// Backend is the slice of the document store the service needs.
// Satisfied by *charm.Client.
type Backend interface {
	MergeDocument(collection, id string, fields map[string]any) error
	WatchDocument(collection, id string, fn func(raw json.RawMessage)) func()
}

// Peer identifies one remote subject being watched, with the context
// (course) the watch came from.
type Peer struct {
	SubjectID    string
	SubjectName  string
	ContextID    string
	ContextLabel string
}

// Config holds presence tuning knobs.
type Config struct {
	Debounce time.Duration
}

// Service publishes the local subject's liveness and watches a bounded
// peer set, emitting at most one notification per peer per session.
type Service struct {
	backend     Backend
	subjectID   string
	subjectName string
	debounce    time.Duration

	mu            sync.Mutex
	state         State
	role          string
	transitioning bool
	debounceTimer *time.Timer

	watchers   map[string]*watcherEntry
	peerOnline map[string]bool
	notified   map[string]bool
	callbacks  map[int]func(models.NotificationEvent)
	nextCB     int
}

type watcherEntry struct {
	peer   Peer
	cancel func()
	refs   int
}

// NewService creates a presence service for one authenticated session.
func NewService(backend Backend, subjectID, subjectName string, cfg Config) *Service {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Service{
		backend:     backend,
		subjectID:   subjectID,
		subjectName: subjectName,
		debounce:    cfg.Debounce,
		state:       StateUninitialized,
		watchers:    map[string]*watcherEntry{},
		peerOnline:  map[string]bool{},
		notified:    map[string]bool{},
		callbacks:   map[int]func(models.NotificationEvent){},
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize brings the service to Active. A publisher writes its own
// presence record; a subscriber instead watches the given peer set
// without ever writing its own record.
func (s *Service) Initialize(role string, peers []Peer) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return fmt.Errorf("presence already initialized (state %s)", s.state)
	}
	s.state = StateInitializing
	s.role = role
	s.mu.Unlock()

	switch role {
	case models.RolePublisher:
		if err := s.writePresence(true); err != nil {
			log.Printf("presence: initial online write failed, will retry on restore: %v", err)
		}
	case models.RoleSubscriber:
		for _, peer := range peers {
			s.WatchPeer(peer)
		}
	default:
		s.mu.Lock()
		s.state = StateUninitialized
		s.mu.Unlock()
		return fmt.Errorf("unknown presence role %q", role)
	}

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
	return nil
}

// HandleBackground arms the debounce window instead of immediately
// marking offline, so brief app switches never flicker presence.
func (s *Service) HandleBackground() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.state = StateBackgrounded
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.debounceElapsed)
}

func (s *Service) debounceElapsed() {
	s.mu.Lock()
	if s.state != StateBackgrounded {
		s.mu.Unlock()
		return
	}
	s.state = StateOffline
	s.debounceTimer = nil
	publisher := s.role == models.RolePublisher
	s.mu.Unlock()

	if publisher {
		if err := s.writePresence(false); err != nil {
			log.Printf("presence: offline write failed: %v", err)
		}
	}
}

// HandleForeground reverts to Active. Returning within the debounce
// window cancels the pending offline transition with no backend write;
// returning after it produces one online write.
func (s *Service) HandleForeground() {
	s.mu.Lock()
	switch s.state {
	case StateBackgrounded:
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
			s.debounceTimer = nil
		}
		s.state = StateActive
		s.mu.Unlock()
		return
	case StateOffline:
		s.state = StateActive
		publisher := s.role == models.RolePublisher
		s.mu.Unlock()
		if publisher {
			if err := s.writePresence(true); err != nil {
				log.Printf("presence: online write failed: %v", err)
			}
		}
		return
	default:
		s.mu.Unlock()
	}
}

// HandleNetworkLost transitions straight to Offline, bypassing the
// debounce window. Loss of connectivity is not ambiguous.
func (s *Service) HandleNetworkLost() {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateBackgrounded {
		s.mu.Unlock()
		return
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	s.state = StateOffline
	s.mu.Unlock()
	// No backend write: the network just went away.
}

// HandleNetworkRestored transitions Offline back to Active with an
// immediate online write.
func (s *Service) HandleNetworkRestored() {
	s.mu.Lock()
	if s.state != StateOffline {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	publisher := s.role == models.RolePublisher
	s.mu.Unlock()

	if publisher {
		if err := s.writePresence(true); err != nil {
			log.Printf("presence: online write failed after restore: %v", err)
		}
	}
}

// Cleanup tears the session down: unsubscribes every peer watch and,
// for a publisher, best-effort writes offline before detaching. Safe to
// call multiple times.
func (s *Service) Cleanup() {
	s.mu.Lock()
	if s.state == StateCleanedUp {
		s.mu.Unlock()
		return
	}
	wasPublisher := s.role == models.RolePublisher && s.state != StateUninitialized
	s.state = StateCleanedUp
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	cancels := make([]func(), 0, len(s.watchers))
	for _, w := range s.watchers {
		cancels = append(cancels, w.cancel)
	}
	s.watchers = map[string]*watcherEntry{}
	s.callbacks = map[int]func(models.NotificationEvent){}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if wasPublisher {
		if err := s.writePresence(false); err != nil {
			log.Printf("presence: best-effort offline write on cleanup failed: %v", err)
		}
	}
}

// writePresence updates the local subject's own record. A process only
// ever writes its own record. Guarded so overlapping transitions
// coalesce rather than interleave writes.
func (s *Service) writePresence(online bool) error {
	s.mu.Lock()
	if s.transitioning {
		s.mu.Unlock()
		return nil
	}
	s.transitioning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.transitioning = false
		s.mu.Unlock()
	}()

	return s.backend.MergeDocument(charm.CollectionPresence, s.subjectID, map[string]any{
		"subject_id": s.subjectID,
		"name":       s.subjectName,
		"is_online":  online,
		"last_seen":  time.Now().UTC().Format(time.RFC3339),
	})
}

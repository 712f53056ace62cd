// ABOUTME: Refcounted peer watch registry and online notification fan-out
// ABOUTME: Emits at most one notification per peer per service session
package presence

import (
	"encoding/json"
	"log"

	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/models"
)

// OnPeerOnline registers a callback for peer-online notifications.
// Returns an unsubscribe function.
func (s *Service) OnPeerOnline(fn func(models.NotificationEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextCB
	s.nextCB++
	s.callbacks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.callbacks, id)
	}
}

// WatchPeer adds a peer to the bounded listener set, or bumps the
// reference count if it is already watched. A peer watched from two
// courses still holds a single backend subscription.
func (s *Service) WatchPeer(peer Peer) {
	s.mu.Lock()
	if s.state == StateCleanedUp {
		s.mu.Unlock()
		return
	}
	if entry, ok := s.watchers[peer.SubjectID]; ok {
		entry.refs++
		s.mu.Unlock()
		return
	}
	entry := &watcherEntry{peer: peer, refs: 1}
	s.watchers[peer.SubjectID] = entry
	s.mu.Unlock()

	cancel := s.backend.WatchDocument(charm.CollectionPresence, peer.SubjectID, func(raw json.RawMessage) {
		s.handlePeerUpdate(peer, raw)
	})

	s.mu.Lock()
	// Cleanup may have raced the subscription; tear it down if so.
	if current, ok := s.watchers[peer.SubjectID]; ok && current == entry {
		entry.cancel = cancel
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	cancel()
}

// UnwatchPeer drops one reference to a peer watch, unsubscribing from
// the backend when the last reference is released.
func (s *Service) UnwatchPeer(subjectID string) {
	s.mu.Lock()
	entry, ok := s.watchers[subjectID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.watchers, subjectID)
	delete(s.peerOnline, subjectID)
	cancel := entry.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// WatchedPeers returns the ids of the current listener set.
func (s *Service) WatchedPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) handlePeerUpdate(peer Peer, raw json.RawMessage) {
	var record models.PresenceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		log.Printf("presence: unreadable record for peer %s: %v", peer.SubjectID, err)
		return
	}

	s.mu.Lock()
	wasOnline := s.peerOnline[peer.SubjectID]
	s.peerOnline[peer.SubjectID] = record.IsOnline

	if !record.IsOnline || wasOnline || s.notified[peer.SubjectID] {
		s.mu.Unlock()
		return
	}
	// First time this session the peer is seen coming online
	s.notified[peer.SubjectID] = true

	name := record.Name
	if name == "" {
		name = peer.SubjectName
	}
	event := models.NotificationEvent{
		SubjectID:    peer.SubjectID,
		SubjectName:  name,
		ContextID:    peer.ContextID,
		ContextLabel: peer.ContextLabel,
	}
	callbacks := make([]func(models.NotificationEvent), 0, len(s.callbacks))
	for _, fn := range s.callbacks {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

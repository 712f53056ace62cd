// ABOUTME: Tests for the presence service state machine and peer notifications
// ABOUTME: Covers debounced backgrounding, network transitions, and once-per-session delivery
package presence

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/studyhall/charm"
	"github.com/harperreed/studyhall/models"
)

// The real backend client must satisfy the service's interface.
var _ Backend = (*charm.Client)(nil)

// fakeBackend records presence writes and lets tests push peer updates
// synchronously, without waiting on watch polling.
type fakeBackend struct {
	mu       sync.Mutex
	writes   []map[string]any
	watchers map[string][]func(json.RawMessage)
	canceled int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{watchers: map[string][]func(json.RawMessage){}}
}

func (b *fakeBackend) MergeDocument(collection, id string, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, fields)
	return nil
}

func (b *fakeBackend) WatchDocument(collection, id string, fn func(json.RawMessage)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[id] = append(b.watchers[id], fn)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.canceled++
	}
}

func (b *fakeBackend) pushPeer(t *testing.T, id string, online bool) {
	t.Helper()
	raw, err := json.Marshal(models.PresenceRecord{SubjectID: id, IsOnline: online, LastSeen: time.Now()})
	require.NoError(t, err)
	b.mu.Lock()
	fns := append([]func(json.RawMessage){}, b.watchers[id]...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}

func (b *fakeBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

func (b *fakeBackend) lastWrite() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.writes) == 0 {
		return nil
	}
	return b.writes[len(b.writes)-1]
}

func newPublisher(t *testing.T, backend *fakeBackend) *Service {
	t.Helper()
	s := NewService(backend, "teacher-1", "Prof. Gopher", Config{Debounce: 30 * time.Millisecond})
	require.NoError(t, s.Initialize(models.RolePublisher, nil))
	t.Cleanup(s.Cleanup)
	return s
}

func TestPublisherInitializeWritesOnline(t *testing.T) {
	backend := newFakeBackend()
	s := newPublisher(t, backend)

	assert.Equal(t, StateActive, s.State())
	require.Equal(t, 1, backend.writeCount())
	assert.Equal(t, true, backend.lastWrite()["is_online"])
	assert.Equal(t, "teacher-1", backend.lastWrite()["subject_id"])
}

func TestInitializeTwiceFails(t *testing.T) {
	backend := newFakeBackend()
	s := newPublisher(t, backend)
	assert.Error(t, s.Initialize(models.RolePublisher, nil))
}

func TestInitializeUnknownRole(t *testing.T) {
	backend := newFakeBackend()
	s := NewService(backend, "x", "", Config{})
	assert.Error(t, s.Initialize("admin", nil))
	assert.Equal(t, StateUninitialized, s.State())
}

func TestBriefBackgroundingProducesNoWrites(t *testing.T) {
	backend := newFakeBackend()
	s := newPublisher(t, backend)
	writesAfterInit := backend.writeCount()

	s.HandleBackground()
	assert.Equal(t, StateBackgrounded, s.State())

	// Return before the debounce window elapses
	s.HandleForeground()
	assert.Equal(t, StateActive, s.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, writesAfterInit, backend.writeCount(),
		"a brief app switch must not flicker presence")
}

func TestBackgroundingPastDebounceWritesOffline(t *testing.T) {
	backend := newFakeBackend()
	s := newPublisher(t, backend)
	writesAfterInit := backend.writeCount()

	s.HandleBackground()
	require.Eventually(t, func() bool { return s.State() == StateOffline },
		time.Second, 5*time.Millisecond)

	require.Equal(t, writesAfterInit+1, backend.writeCount(), "exactly one offline write")
	assert.Equal(t, false, backend.lastWrite()["is_online"])

	// Foregrounding from Offline goes straight back online
	s.HandleForeground()
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, true, backend.lastWrite()["is_online"])
}

func TestNetworkLossBypassesDebounce(t *testing.T) {
	backend := newFakeBackend()
	s := newPublisher(t, backend)
	writesAfterInit := backend.writeCount()

	s.HandleBackground()
	s.HandleNetworkLost()

	// Immediate, no debounce wait, and no doomed backend write
	assert.Equal(t, StateOffline, s.State())
	assert.Equal(t, writesAfterInit, backend.writeCount())

	// The lapsed debounce timer must not fire a second transition
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateOffline, s.State())
	assert.Equal(t, writesAfterInit, backend.writeCount())
}

func TestNetworkRestoredWritesOnline(t *testing.T) {
	backend := newFakeBackend()
	s := newPublisher(t, backend)

	s.HandleNetworkLost()
	require.Equal(t, StateOffline, s.State())

	s.HandleNetworkRestored()
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, true, backend.lastWrite()["is_online"])

	// Restoring while already Active is a no-op
	writes := backend.writeCount()
	s.HandleNetworkRestored()
	assert.Equal(t, writes, backend.writeCount())
}

func TestCleanupPublisher(t *testing.T) {
	backend := newFakeBackend()
	s := NewService(backend, "teacher-1", "Prof. Gopher", Config{Debounce: 30 * time.Millisecond})
	require.NoError(t, s.Initialize(models.RolePublisher, nil))

	s.Cleanup()
	assert.Equal(t, StateCleanedUp, s.State())
	assert.Equal(t, false, backend.lastWrite()["is_online"])

	// Idempotent: no second offline write
	writes := backend.writeCount()
	s.Cleanup()
	assert.Equal(t, writes, backend.writeCount())
}

func subscriberPeers() []Peer {
	return []Peer{
		{SubjectID: "teacher-1", SubjectName: "Prof. Gopher", ContextID: "course-101", ContextLabel: "Intro to Go"},
		{SubjectID: "teacher-2", SubjectName: "Dr. Routine", ContextID: "course-202", ContextLabel: "Concurrency"},
	}
}

func newSubscriber(t *testing.T, backend *fakeBackend) (*Service, *[]models.NotificationEvent) {
	t.Helper()
	s := NewService(backend, "student-1", "Sam", Config{Debounce: 30 * time.Millisecond})
	require.NoError(t, s.Initialize(models.RoleSubscriber, subscriberPeers()))
	t.Cleanup(s.Cleanup)

	var events []models.NotificationEvent
	s.OnPeerOnline(func(e models.NotificationEvent) { events = append(events, e) })
	return s, &events
}

func TestSubscriberNeverWritesOwnRecord(t *testing.T) {
	backend := newFakeBackend()
	s, _ := newSubscriber(t, backend)

	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, 0, backend.writeCount())
	assert.Len(t, s.WatchedPeers(), 2)

	s.Cleanup()
	assert.Equal(t, 0, backend.writeCount(), "subscriber cleanup must not write presence")
}

func TestPeerOnlineNotifiesOnce(t *testing.T) {
	backend := newFakeBackend()
	_, events := newSubscriber(t, backend)

	backend.pushPeer(t, "teacher-1", true)
	require.Len(t, *events, 1)
	assert.Equal(t, "teacher-1", (*events)[0].SubjectID)
	assert.Equal(t, "course-101", (*events)[0].ContextID)

	// Online again without going offline first: no second event
	backend.pushPeer(t, "teacher-1", true)
	assert.Len(t, *events, 1)
}

func TestPeerTogglingNotifiesOncePerSession(t *testing.T) {
	backend := newFakeBackend()
	_, events := newSubscriber(t, backend)

	backend.pushPeer(t, "teacher-1", true)
	backend.pushPeer(t, "teacher-1", false)
	backend.pushPeer(t, "teacher-1", true)
	backend.pushPeer(t, "teacher-1", false)
	backend.pushPeer(t, "teacher-1", true)

	assert.Len(t, *events, 1, "re-toggling must not re-notify within a session")
}

func TestDistinctPeersNotifyIndependently(t *testing.T) {
	backend := newFakeBackend()
	_, events := newSubscriber(t, backend)

	backend.pushPeer(t, "teacher-1", true)
	backend.pushPeer(t, "teacher-2", true)
	assert.Len(t, *events, 2)
}

func TestPeerOfflineUpdateDoesNotNotify(t *testing.T) {
	backend := newFakeBackend()
	_, events := newSubscriber(t, backend)

	backend.pushPeer(t, "teacher-1", false)
	assert.Empty(t, *events)
}

func TestOnPeerOnlineUnsubscribe(t *testing.T) {
	backend := newFakeBackend()
	s := NewService(backend, "student-1", "Sam", Config{})
	require.NoError(t, s.Initialize(models.RoleSubscriber, subscriberPeers()))
	defer s.Cleanup()

	var events int
	unsubscribe := s.OnPeerOnline(func(models.NotificationEvent) { events++ })
	unsubscribe()

	backend.pushPeer(t, "teacher-1", true)
	assert.Equal(t, 0, events)
}

func TestWatchRefcounting(t *testing.T) {
	backend := newFakeBackend()
	s := NewService(backend, "student-1", "Sam", Config{})
	require.NoError(t, s.Initialize(models.RoleSubscriber, nil))
	defer s.Cleanup()

	// Same teacher reached through two enrolled courses
	peer := Peer{SubjectID: "teacher-1", ContextID: "course-101"}
	s.WatchPeer(peer)
	s.WatchPeer(Peer{SubjectID: "teacher-1", ContextID: "course-202"})
	assert.Len(t, s.WatchedPeers(), 1, "one backend subscription per peer")

	s.UnwatchPeer("teacher-1")
	assert.Len(t, s.WatchedPeers(), 1, "still referenced by the other course")

	s.UnwatchPeer("teacher-1")
	assert.Empty(t, s.WatchedPeers())

	backend.mu.Lock()
	canceled := backend.canceled
	backend.mu.Unlock()
	assert.Equal(t, 1, canceled)
}

func TestCleanupCancelsAllWatches(t *testing.T) {
	backend := newFakeBackend()
	s, _ := newSubscriber(t, backend)

	s.Cleanup()
	assert.Empty(t, s.WatchedPeers())

	backend.mu.Lock()
	canceled := backend.canceled
	backend.mu.Unlock()
	assert.Equal(t, 2, canceled)
}

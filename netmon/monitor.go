// ABOUTME: Network status monitor deriving online state and reconnect pulses
// ABOUTME: Polls a connectivity prober, detects offline-to-online edges, and notifies listeners
package netmon

import (
	"sync"
	"time"

	"github.com/harperreed/studyhall/models"
)

const (
	// DefaultProbeInterval is how often connectivity is re-checked.
	DefaultProbeInterval = 10 * time.Second

	// DefaultPulseWindow is how long the reconnect pulse stays observable
	// after an offline-to-online transition.
	DefaultPulseWindow = time.Second
)

// Prober answers one connectivity check. Implementations must not block
// longer than a single network round trip.
type Prober interface {
	Probe() (models.ConnectivitySnapshot, error)
}

// BackendProber probes connectivity through the backend client's
// reachability check.
type BackendProber struct {
	Backend interface{ IsConnected() bool }
}

func (p *BackendProber) Probe() (models.ConnectivitySnapshot, error) {
	if p.Backend == nil {
		return models.ConnectivitySnapshot{}, errProberUnavailable
	}
	if p.Backend.IsConnected() {
		return models.ConnectivitySnapshot{
			IsConnected:         true,
			IsInternetReachable: models.True,
			TransportType:       models.TransportUnknown,
		}, nil
	}
	return models.ConnectivitySnapshot{
		IsConnected:         false,
		IsInternetReachable: models.False,
		TransportType:       models.TransportUnknown,
	}, nil
}

var errProberUnavailable = probeError("connectivity prober unavailable")

type probeError string

func (e probeError) Error() string { return string(e) }

// Config holds monitor tuning knobs.
type Config struct {
	ProbeInterval time.Duration
	PulseWindow   time.Duration
}

// Monitor continuously derives an online/offline signal plus a one-shot
// reconnected pulse. It only reports; it never retries or acts.
type Monitor struct {
	prober        Prober
	probeInterval time.Duration
	pulseWindow   time.Duration

	mu             sync.Mutex
	snapshot       models.ConnectivitySnapshot
	hasReconnected bool
	pulseTimer     *time.Timer
	listeners      map[int]func(models.ConnectivitySnapshot)
	reconnectSubs  map[int]func()
	nextID         int
	done           chan struct{}
	started        bool
}

// NewMonitor creates a monitor over the given prober. Zero config
// fields fall back to defaults.
func NewMonitor(prober Prober, cfg Config) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.PulseWindow <= 0 {
		cfg.PulseWindow = DefaultPulseWindow
	}
	return &Monitor{
		prober:        prober,
		probeInterval: cfg.ProbeInterval,
		pulseWindow:   cfg.PulseWindow,
		listeners:     map[int]func(models.ConnectivitySnapshot){},
		reconnectSubs: map[int]func(){},
	}
}

// Start performs an immediate probe so dependents are never stuck in an
// unknown state, then polls on the configured interval until Stop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.CheckNow()

	go func() {
		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.CheckNow()
			}
		}
	}()
}

// Stop tears down the poll loop and any pending pulse reset. Safe to
// call more than once, and the monitor may be started again afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.done)
	if m.pulseTimer != nil {
		m.pulseTimer.Stop()
		m.pulseTimer = nil
	}
}

// CheckNow forces one probe. Used at startup and by lifecycle events
// that want fresh state without waiting for the next tick.
func (m *Monitor) CheckNow() {
	snap, err := m.probe()
	if err != nil {
		// Fail open: presumed connectivity never blocks the rest of the
		// system, an attempted online write simply fails and is retried.
		snap = models.ConnectivitySnapshot{
			IsConnected:         true,
			IsInternetReachable: models.Unknown,
			TransportType:       models.TransportUnknown,
		}
	}
	snap.IsOnline = snap.IsConnected && snap.IsInternetReachable.Bool()
	snap.CheckedAt = time.Now().UTC()

	m.mu.Lock()
	wasOnline := m.snapshot.IsOnline
	everChecked := !m.snapshot.CheckedAt.IsZero()
	m.snapshot = snap

	reconnected := everChecked && !wasOnline && snap.IsOnline
	if reconnected {
		m.hasReconnected = true
		if m.pulseTimer != nil {
			m.pulseTimer.Stop()
		}
		m.pulseTimer = time.AfterFunc(m.pulseWindow, m.clearPulse)
	}

	changeSubs := make([]func(models.ConnectivitySnapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		changeSubs = append(changeSubs, fn)
	}
	var edgeSubs []func()
	if reconnected {
		edgeSubs = make([]func(), 0, len(m.reconnectSubs))
		for _, fn := range m.reconnectSubs {
			edgeSubs = append(edgeSubs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range changeSubs {
		fn(snap)
	}
	for _, fn := range edgeSubs {
		fn()
	}
}

func (m *Monitor) probe() (models.ConnectivitySnapshot, error) {
	if m.prober == nil {
		return models.ConnectivitySnapshot{}, errProberUnavailable
	}
	return m.prober.Probe()
}

func (m *Monitor) clearPulse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasReconnected = false
	m.pulseTimer = nil
}

// Snapshot returns the most recent connectivity snapshot.
func (m *Monitor) Snapshot() models.ConnectivitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// IsOnline reports the derived online state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.IsOnline
}

// HasReconnected reports whether the reconnect pulse is currently
// observable. It stays true for one pulse window per offline-to-online
// transition, then clears.
func (m *Monitor) HasReconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasReconnected
}

// OnChange registers a listener for every snapshot update. Returns an
// unsubscribe function.
func (m *Monitor) OnChange(fn func(models.ConnectivitySnapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// OnReconnect registers a listener fired exactly once per
// offline-to-online transition. Returns an unsubscribe function.
func (m *Monitor) OnReconnect(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.reconnectSubs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.reconnectSubs, id)
	}
}

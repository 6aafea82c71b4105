// Package status provides a thread-safe status tracker for the
// turbulence-sensor daemon. It is read by HTTP handlers and lifecycle events.
package status

import (
	"slices"
	"sync"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/host"
	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	SampleMs    int64
	RefreshMs   int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Source      string
}

// TransitionCounts counts stabilized status transitions by target level.
type TransitionCounts struct {
	Smooth     int
	Light      int
	Moderate   int
	Severe     int
	SensorLost int
}

func (c *TransitionCounts) add(to logic.Level, lost bool) {
	if lost {
		c.SensorLost++
		return
	}
	switch to {
	case logic.LevelSmooth:
		c.Smooth++
	case logic.LevelLight:
		c.Light++
	case logic.LevelModerate:
		c.Moderate++
	case logic.LevelSevere:
		c.Severe++
	}
}

// Total returns the number of transitions counted.
func (c TransitionCounts) Total() int {
	return c.Smooth + c.Light + c.Moderate + c.Severe + c.SensorLost
}

// EngineStatus is one engine's latest published snapshot plus its counts.
type EngineStatus struct {
	// Snap is immutable once published and may be shared.
	Snap        *engine.Snapshot
	Transitions TransitionCounts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Engines       []EngineStatus
	Overlay       host.OverlayState
	Viewers       int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Engine returns the status of the named engine.
func (s Snapshot) Engine(name string) (EngineStatus, bool) {
	for _, e := range s.Engines {
		if e.Snap != nil && e.Snap.Name == name {
			return e, true
		}
	}
	return EngineStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

func (t *Tracker) entry(name string) *EngineStatus {
	for i := range t.snap.Engines {
		if t.snap.Engines[i].Snap.Name == name {
			return &t.snap.Engines[i]
		}
	}
	t.snap.Engines = append(t.snap.Engines, EngineStatus{Snap: &engine.Snapshot{Name: name}})
	return &t.snap.Engines[len(t.snap.Engines)-1]
}

// UpdateEngine stores the latest snapshot of an engine.
// Called from runLoop on every tick.
func (t *Tracker) UpdateEngine(s *engine.Snapshot) {
	if s == nil {
		return
	}
	t.mu.Lock()
	t.entry(s.Name).Snap = s
	t.mu.Unlock()
}

// CountTransition records a stabilized transition of the named engine.
func (t *Tracker) CountTransition(name string, to logic.Level, lost bool) {
	t.mu.Lock()
	t.entry(name).Transitions.add(to, lost)
	t.mu.Unlock()
}

// Watch counts transitions of eng as they happen.
func (t *Tracker) Watch(eng *engine.Engine) (unwatch func()) {
	name := eng.Name()
	t.UpdateEngine(eng.Snapshot())
	return eng.Subscribe(func(u engine.Update) {
		if u.Changed {
			t.CountTransition(name, u.Status, !u.Available)
		}
	})
}

// SetOverlay stores the overlay state.
func (t *Tracker) SetOverlay(st host.OverlayState) {
	t.mu.Lock()
	t.snap.Overlay = st
	t.mu.Unlock()
}

// SetViewers stores the number of visible widget screens.
func (t *Tracker) SetViewers(n int) {
	t.mu.Lock()
	t.snap.Viewers = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Engines = slices.Clone(t.snap.Engines)
	s.Overlay.Notification.Actions = slices.Clone(t.snap.Overlay.Notification.Actions)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

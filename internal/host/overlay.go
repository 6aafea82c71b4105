package host

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// Overlay commands accepted by HandleCommand.
const (
	CommandStop    = "STOP"
	CommandDismiss = "DISMISS"
	CommandShow    = "SHOW"
)

// Notification describes the overlay's persistent running-state notice.
type Notification struct {
	Title   string       `json:"title"`
	Text    string       `json:"text"`
	Running bool         `json:"running"`
	State   engine.State `json:"state"`
	Status  logic.Level  `json:"status"`
	GForce  float64      `json:"g_force"`
	Actions []string     `json:"actions,omitempty"`
}

// Notifier publishes notifications. Implementations may block on I/O.
type Notifier interface {
	Notify(Notification) error
}

// Indicator is the draggable always-on-top marker.
type Indicator struct {
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Visible bool `json:"visible"`
}

// Surface is the area the indicator may be dragged within.
type Surface struct {
	Width, Height, Size int
}

// DefaultSurface is a phone-sized surface with a 64px indicator.
var DefaultSurface = Surface{Width: 1080, Height: 2340, Size: 64}

// OverlayState is a point-in-time copy of the overlay.
type OverlayState struct {
	Running      bool         `json:"running"`
	Indicator    Indicator    `json:"indicator"`
	Notification Notification `json:"notification"`
}

// Overlay keeps an engine alive in the background. Engine state and the
// notification are only ever changed together under mu, and the sample
// goroutine hands updates off without doing I/O.
type Overlay struct {
	eng      *engine.Engine
	notifier Notifier
	surface  Surface
	log      *slog.Logger

	mu          sync.Mutex
	running     bool
	indicator   Indicator
	unsubscribe func()
	pending     chan Notification
	quit        chan struct{}
	loopDone    chan struct{}

	lastMu sync.Mutex
	last   Notification
}

// NewOverlay creates an overlay host for eng.
func NewOverlay(eng *engine.Engine, notifier Notifier, surface Surface, logger *slog.Logger) *Overlay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Overlay{
		eng:      eng,
		notifier: notifier,
		surface:  surface,
		log:      logger.With("component", "overlay"),
		last:     stoppedNotification(),
	}
}

// Engine returns the hosted engine.
func (o *Overlay) Engine() *engine.Engine {
	return o.eng
}

// Start begins the background session and shows the indicator. Starting a
// running overlay is a no-op, so the sample stream is never registered twice.
func (o *Overlay) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	o.pending = make(chan Notification, 1)
	o.quit = make(chan struct{})
	o.loopDone = make(chan struct{})
	go o.notifyLoop(o.pending, o.quit, o.loopDone)

	o.unsubscribe = o.eng.Subscribe(o.onUpdate)
	if err := o.eng.Start(ctx); err != nil {
		o.unsubscribe()
		o.stopLoopLocked()
		o.publish(unavailableNotification(err))
		return err
	}

	o.running = true
	o.indicator = Indicator{
		X:       o.surface.Width - o.surface.Size,
		Y:       o.surface.Height / 4,
		Visible: true,
	}
	o.publish(notificationFor(o.eng.Snapshot()))
	o.log.Info("overlay started")
	return nil
}

// Stop ends the session, hides the indicator and publishes the stopped
// notification. The engine is stopped before the notification changes.
func (o *Overlay) Stop(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}
	o.unsubscribe()
	o.eng.Stop()
	o.stopLoopLocked()

	o.running = false
	o.indicator.Visible = false
	o.publish(stoppedNotification())
	o.log.Info("overlay stopped", "reason", reason)
}

func (o *Overlay) stopLoopLocked() {
	close(o.quit)
	<-o.loopDone
}

// Running reports whether the overlay session is active.
func (o *Overlay) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Move drags the indicator by (dx, dy), clamped to the surface. Returns
// false if there is no visible indicator.
func (o *Overlay) Move(dx, dy int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || !o.indicator.Visible {
		return false
	}
	o.indicator.X = clamp(o.indicator.X+dx, 0, o.surface.Width-o.surface.Size)
	o.indicator.Y = clamp(o.indicator.Y+dy, 0, o.surface.Height-o.surface.Size)
	return true
}

// Dismiss hides the indicator. The session and notification stay up.
func (o *Overlay) Dismiss() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.indicator.Visible = false
}

// Restore shows the indicator again while running.
func (o *Overlay) Restore() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return false
	}
	o.indicator.Visible = true
	return true
}

// HandleCommand applies a user action from the notification or a remote.
func (o *Overlay) HandleCommand(ctx context.Context, cmd string) error {
	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case CommandStop:
		o.Stop("user")
	case CommandDismiss:
		o.Dismiss()
	case CommandShow:
		if o.Restore() {
			return nil
		}
		return o.Start(ctx)
	default:
		return fmt.Errorf("unknown overlay command %q", cmd)
	}
	return nil
}

// State returns a copy of the overlay state.
func (o *Overlay) State() OverlayState {
	o.mu.Lock()
	st := OverlayState{Running: o.running, Indicator: o.indicator}
	o.mu.Unlock()
	st.Notification = o.Notification()
	return st
}

// Notification returns the last published notification.
func (o *Overlay) Notification() Notification {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return o.last
}

// onUpdate runs on the engine's sample goroutine: it only queues.
func (o *Overlay) onUpdate(u engine.Update) {
	if !u.Changed {
		return
	}
	n := notificationFor(o.eng.Snapshot())
	if !u.Available {
		n = unavailableNotification(nil)
		n.Running = true
		n.Actions = []string{CommandStop}
	}
	// Keep only the newest pending notification.
	select {
	case o.pending <- n:
	default:
		select {
		case <-o.pending:
		default:
		}
		select {
		case o.pending <- n:
		default:
		}
	}
}

func (o *Overlay) notifyLoop(pending <-chan Notification, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case n := <-pending:
			o.publish(n)
		}
	}
}

func (o *Overlay) publish(n Notification) {
	o.lastMu.Lock()
	o.last = n
	o.lastMu.Unlock()

	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(n); err != nil {
		o.log.Warn("notification publish failed", "err", err)
	}
}

func notificationFor(s *engine.Snapshot) Notification {
	n := Notification{
		Title:   "Turbulence monitor",
		Running: s.State == engine.StateRunning,
		State:   s.State,
		Status:  s.Status,
		GForce:  s.GForce,
	}
	switch s.State {
	case engine.StateRunning:
		n.Text = fmt.Sprintf("%s · %.2f G", strings.ToLower(s.Status.String()), s.GForce)
		n.Actions = []string{CommandStop}
	case engine.StateUnavailable:
		return unavailableNotification(nil)
	default:
		return stoppedNotification()
	}
	return n
}

func unavailableNotification(err error) Notification {
	text := "Sensor unavailable"
	if err != nil {
		text = fmt.Sprintf("Sensor unavailable: %v", err)
	}
	return Notification{
		Title: "Turbulence monitor",
		Text:  text,
		State: engine.StateUnavailable,
	}
}

func stoppedNotification() Notification {
	return Notification{
		Title: "Turbulence monitor",
		Text:  "Stopped",
		State: engine.StateIdle,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

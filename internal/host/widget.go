// Package host binds engines to their two host lifecycles: an inline widget
// that lives only while a screen shows it, and a long-running overlay with
// its own indicator and persistent notification.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sweeney/turbulence-sensor/internal/engine"
)

// Widget runs its engine while at least one screen is visible.
type Widget struct {
	eng *engine.Engine
	log *slog.Logger

	mu      sync.Mutex
	viewers int
}

// NewWidget creates a widget host for eng.
func NewWidget(eng *engine.Engine, logger *slog.Logger) *Widget {
	if logger == nil {
		logger = slog.Default()
	}
	return &Widget{eng: eng, log: logger.With("component", "widget")}
}

// Engine returns the hosted engine.
func (w *Widget) Engine() *engine.Engine {
	return w.eng
}

// Show registers a visible screen. The first one starts a session; a screen
// shown after the sensor was lost retries. The returned hide func releases
// this screen and is safe to call more than once.
func (w *Widget) Show() (hide func(), err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.eng.Running() {
		// The session is not tied to any single screen's request context.
		err := w.eng.Start(context.Background())
		if err != nil && !errors.Is(err, engine.ErrAlreadyRunning) {
			return nil, err
		}
	}
	w.viewers++
	w.log.Debug("screen shown", "viewers", w.viewers)

	var once sync.Once
	return func() { once.Do(w.hide) }, nil
}

func (w *Widget) hide() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.viewers--
	w.log.Debug("screen hidden", "viewers", w.viewers)
	if w.viewers == 0 {
		w.eng.Stop()
	}
}

// Viewers returns the number of visible screens.
func (w *Widget) Viewers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewers
}

package logic

import "math"

// Classify maps a G-force reading to its deviation level from 1 G.
func Classify(g float64, t Thresholds) Level {
	d := math.Abs(g - 1.0)
	switch {
	case d <= t.Smooth:
		return LevelSmooth
	case d <= t.Light:
		return LevelLight
	case d <= t.Moderate:
		return LevelModerate
	default:
		return LevelSevere
	}
}

// Window is a bounded FIFO of recent levels with per-level counts kept in
// step with the contents, so a vote never rescans the window.
type Window struct {
	ring   *Ring[Level]
	counts [LevelSevere + 1]int
}

// NewWindow creates a window holding at most size levels.
func NewWindow(size int) *Window {
	return &Window{ring: NewRing[Level](size)}
}

// Push appends a level, evicting the oldest once the window is full.
func (w *Window) Push(l Level) {
	if old, evicted := w.ring.Push(l); evicted {
		w.counts[old]--
	}
	w.counts[l]++
}

// Count returns how many entries of level l the window holds.
func (w *Window) Count(l Level) int {
	return w.counts[l]
}

// Len returns the number of entries.
func (w *Window) Len() int {
	return w.ring.Len()
}

// Levels returns the window contents, oldest first.
func (w *Window) Levels() []Level {
	return w.ring.Slice()
}

// Reset empties the window.
func (w *Window) Reset() {
	w.ring.Reset()
	w.counts = [LevelSevere + 1]int{}
}

// Stabilize votes over the window: the most severe tier whose count meets
// its gate wins, otherwise SMOOTH.
func Stabilize(w *Window, g Gates) Level {
	switch {
	case w.Count(LevelSevere) >= g.Severe:
		return LevelSevere
	case w.Count(LevelModerate) >= g.Moderate:
		return LevelModerate
	case w.Count(LevelLight) >= g.Light:
		return LevelLight
	default:
		return LevelSmooth
	}
}

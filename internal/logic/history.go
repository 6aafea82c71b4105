package logic

import "math"

// History keeps the charting buffer and the session extremes.
// Not safe for concurrent use.
type History struct {
	ring   *Ring[float64]
	min    float64
	max    float64
	seeded bool
}

// NewHistory creates a history holding at most capacity readings.
func NewHistory(capacity int) *History {
	return &History{ring: NewRing[float64](capacity)}
}

// Push records a G-force reading. The first push of a session seeds both
// extremes; later pushes only widen them.
func (h *History) Push(g float64) {
	h.ring.Push(g)
	if !h.seeded {
		h.min, h.max, h.seeded = g, g, true
		return
	}
	h.min = math.Min(h.min, g)
	h.max = math.Max(h.max, g)
}

// Snapshot returns the buffered readings in arrival order.
func (h *History) Snapshot() []float64 {
	return h.ring.Slice()
}

// Len returns the number of buffered readings.
func (h *History) Len() int {
	return h.ring.Len()
}

// Extremes returns the session minimum and maximum. ok is false until the
// first push.
func (h *History) Extremes() (min, max float64, ok bool) {
	return h.min, h.max, h.seeded
}

// WorstRecent returns, among the n newest readings, the one farthest from
// 1 G. ok is false when nothing has been pushed.
func (h *History) WorstRecent(n int) (g float64, ok bool) {
	recent := h.ring.Last(n)
	if len(recent) == 0 {
		return 0, false
	}
	g = recent[0]
	for _, v := range recent[1:] {
		if math.Abs(v-1.0) > math.Abs(g-1.0) {
			g = v
		}
	}
	return g, true
}

// Reset drops all readings and unseeds the extremes.
func (h *History) Reset() {
	h.ring.Reset()
	h.min, h.max, h.seeded = 0, 0, false
}

package logic

import "math"

// Magnitude returns the Euclidean norm of a sample. It does not overflow for
// large finite components.
func Magnitude(s Sample) float64 {
	return math.Hypot(math.Hypot(s.X, s.Y), s.Z)
}

// Finite reports whether every axis of the sample is a finite number.
func (s Sample) Finite() bool {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Conditioner is an exponential moving average over sample magnitudes.
// Not safe for concurrent use.
type Conditioner struct {
	alpha float64
	state float64
}

// NewConditioner creates a conditioner seeded at standard gravity so the
// first sample does not produce a step.
func NewConditioner(alpha float64) *Conditioner {
	return &Conditioner{alpha: alpha, state: StandardGravity}
}

// Update folds one raw sample into the filter and returns the new state.
// A sample whose magnitude is not finite leaves the state unchanged.
func (c *Conditioner) Update(s Sample) float64 {
	m := Magnitude(s)
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return c.state
	}
	c.state = c.alpha*m + (1-c.alpha)*c.state
	return c.state
}

// Value returns the current filtered magnitude.
func (c *Conditioner) Value() float64 {
	return c.state
}

// GForce returns the filtered magnitude in units of standard gravity.
func (c *Conditioner) GForce() float64 {
	return c.state / StandardGravity
}

// Reset reseeds the filter at standard gravity.
func (c *Conditioner) Reset() {
	c.state = StandardGravity
}

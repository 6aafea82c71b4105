package logic

// Ring is a fixed-capacity FIFO. Once full, each push overwrites the oldest
// element. Not safe for concurrent use.
type Ring[T any] struct {
	data []T
	pos  int // next write position
	full bool
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends v. When the ring was already full the overwritten element is
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.full {
		old, evicted = r.data[r.pos], true
	}
	r.data[r.pos] = v
	r.pos++
	if r.pos == len(r.data) {
		r.pos = 0
		r.full = true
	}
	return old, evicted
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.data)
	}
	return r.pos
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.data)
}

// Slice returns the contents oldest first. The result is a copy.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.Len())
	if r.full {
		n := copy(out, r.data[r.pos:])
		copy(out[n:], r.data[:r.pos])
	} else {
		copy(out, r.data[:r.pos])
	}
	return out
}

// Last returns up to n of the newest elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if l := r.Len(); n > l {
		n = l
	}
	out := make([]T, n)
	c := len(r.data)
	start := (r.pos - n + c) % c
	for i := range out {
		out[i] = r.data[(start+i)%c]
	}
	return out
}

// Reset empties the ring without reallocating.
func (r *Ring[T]) Reset() {
	clear(r.data)
	r.pos = 0
	r.full = false
}

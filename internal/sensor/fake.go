package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// FakeSource is a test double that delivers scripted samples.
type FakeSource struct {
	// Samples are delivered in order at the start of every subscription.
	Samples []logic.Sample

	// Hold keeps the stream open after Samples are exhausted, forwarding
	// values passed to Send. Without Hold the stream closes, which the
	// consumer sees as a lost source.
	Hold bool

	// SubscribeError, if set, is returned by Subscribe.
	SubscribeError error

	feed chan logic.Sample

	mu         sync.Mutex
	subscribes int
	active     int
	lost       chan struct{}
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples []logic.Sample) *FakeSource {
	return &FakeSource{Samples: samples, feed: make(chan logic.Sample)}
}

// Subscribe starts a scripted stream.
func (f *FakeSource) Subscribe(ctx context.Context, _ time.Duration) (<-chan logic.Sample, error) {
	f.mu.Lock()
	if f.SubscribeError != nil {
		err := f.SubscribeError
		f.mu.Unlock()
		return nil, err
	}
	f.subscribes++
	f.active++
	lost := make(chan struct{})
	f.lost = lost
	samples := append([]logic.Sample(nil), f.Samples...)
	hold := f.Hold
	f.mu.Unlock()

	out := make(chan logic.Sample)
	go func() {
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
			close(out)
		}()

		send := func(s logic.Sample) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
			case <-lost:
			}
			return false
		}

		for _, s := range samples {
			if !send(s) {
				return
			}
		}
		if !hold {
			return
		}
		for {
			select {
			case s := <-f.feed:
				if !send(s) {
					return
				}
			case <-ctx.Done():
				return
			case <-lost:
				return
			}
		}
	}()
	return out, nil
}

// Send hands one sample to the active subscription. It blocks until the
// subscriber goroutine has taken it.
func (f *FakeSource) Send(s logic.Sample) {
	f.feed <- s
}

// Lose simulates the device disappearing mid-session.
func (f *FakeSource) Lose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost != nil {
		close(f.lost)
		f.lost = nil
	}
}

// Subscribes returns how many times Subscribe succeeded.
func (f *FakeSource) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

// Active returns the number of streams that have not yet been closed.
func (f *FakeSource) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

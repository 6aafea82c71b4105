package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// Shared fans one upstream subscription out to any number of subscribers.
// The upstream is opened by the first subscriber, using its interval, and
// released when the last one leaves. If the upstream closes, every
// subscriber's stream closes with it.
type Shared struct {
	src Source

	mu  sync.Mutex
	cur *upstream
}

type upstream struct {
	cancel context.CancelFunc
	subs   map[*sharedSub]struct{}
}

type sharedSub struct {
	ch   chan logic.Sample
	quit chan struct{}

	mu     sync.Mutex
	closed bool
}

// send blocks until the subscriber takes s or leaves.
func (sub *sharedSub) send(s logic.Sample) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- s:
	case <-sub.quit:
	}
}

// close must be called once, after the subscriber is removed from its upstream.
func (sub *sharedSub) close() {
	close(sub.quit)
	sub.mu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
}

// NewShared wraps src.
func NewShared(src Source) *Shared {
	return &Shared{src: src}
}

// Subscribe joins the current upstream, opening it if needed. The upstream
// runs at the interval of the subscriber that opened it; later subscribers
// receive samples at that rate whatever interval they pass.
func (s *Shared) Subscribe(ctx context.Context, interval time.Duration) (<-chan logic.Sample, error) {
	s.mu.Lock()
	u := s.cur
	if u == nil {
		uctx, cancel := context.WithCancel(context.Background())
		ch, err := s.src.Subscribe(uctx, interval)
		if err != nil {
			cancel()
			s.mu.Unlock()
			return nil, err
		}
		u = &upstream{cancel: cancel, subs: make(map[*sharedSub]struct{})}
		s.cur = u
		go s.pump(u, ch)
	}
	sub := &sharedSub{ch: make(chan logic.Sample), quit: make(chan struct{})}
	u.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.leave(u, sub)
		case <-sub.quit:
		}
	}()
	return sub.ch, nil
}

// Subscribers returns how many streams share the current upstream.
func (s *Shared) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0
	}
	return len(s.cur.subs)
}

func (s *Shared) pump(u *upstream, ch <-chan logic.Sample) {
	var subs []*sharedSub
	for sample := range ch {
		s.mu.Lock()
		subs = subs[:0]
		for sub := range u.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			sub.send(sample)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range u.subs {
		delete(u.subs, sub)
		sub.close()
	}
	if s.cur == u {
		s.cur = nil
	}
	u.cancel()
}

func (s *Shared) leave(u *upstream, sub *sharedSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := u.subs[sub]; !ok {
		return
	}
	delete(u.subs, sub)
	sub.close()
	if len(u.subs) == 0 {
		if s.cur == u {
			s.cur = nil
		}
		u.cancel()
	}
}

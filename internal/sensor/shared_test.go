package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

func recv(t *testing.T, ch <-chan logic.Sample) logic.Sample {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no sample")
	}
	return logic.Sample{}
}

func waitClosed(t *testing.T, ch <-chan logic.Sample) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSharedFansOutOneUpstream(t *testing.T) {
	src := NewFakeSource(nil)
	src.Hold = true
	shared := NewShared(src)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	a, err := shared.Subscribe(ctxA, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	b, err := shared.Subscribe(ctxB, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if src.Subscribes() != 1 {
		t.Fatalf("expected one upstream subscription, got %d", src.Subscribes())
	}
	if shared.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", shared.Subscribers())
	}

	// Delivery is unbuffered, so both subscribers must be reading.
	got := make(chan logic.Sample, 2)
	go func() { got <- <-a }()
	go func() { got <- <-b }()
	src.Send(logic.Sample{Z: 9.81})
	for i := 0; i < 2; i++ {
		if s := recv(t, got); s.Z != 9.81 {
			t.Errorf("unexpected sample %+v", s)
		}
	}

	cancelA()
	waitClosed(t, a)
	if src.Active() != 1 {
		t.Errorf("upstream should stay open while b subscribes")
	}

	cancelB()
	waitClosed(t, b)
	waitFor(t, func() bool { return src.Active() == 0 })
	if shared.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", shared.Subscribers())
	}
}

func TestSharedReopensAfterLastLeaves(t *testing.T) {
	src := NewFakeSource(nil)
	src.Hold = true
	shared := NewShared(src)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := shared.Subscribe(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	waitClosed(t, ch)
	waitFor(t, func() bool { return src.Active() == 0 })

	ch, err = shared.Subscribe(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Subscribes() != 2 {
		t.Errorf("expected a fresh upstream, got %d subscribes", src.Subscribes())
	}
	src.Lose()
	waitClosed(t, ch)
}

func TestSharedClosesAllOnLoss(t *testing.T) {
	src := NewFakeSource(nil)
	src.Hold = true
	shared := NewShared(src)

	a, _ := shared.Subscribe(context.Background(), time.Millisecond)
	b, _ := shared.Subscribe(context.Background(), time.Millisecond)
	src.Lose()
	waitClosed(t, a)
	waitClosed(t, b)
	waitFor(t, func() bool { return shared.Subscribers() == 0 })
}

func TestSharedSubscribeError(t *testing.T) {
	src := NewFakeSource(nil)
	src.SubscribeError = ErrUnavailable
	shared := NewShared(src)

	if _, err := shared.Subscribe(context.Background(), time.Millisecond); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if shared.Subscribers() != 0 {
		t.Errorf("failed subscribe must not register")
	}
}

// Package sensor provides 3-axis acceleration sources with hardware abstraction.
// The real implementation reads a Linux IIO accelerometer, optionally paced by a
// GPIO data-ready line. The fake implementation allows testing without hardware.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// ErrUnavailable is returned (wrapped) when a source cannot deliver samples.
var ErrUnavailable = errors.New("sensor unavailable")

// Source delivers raw acceleration samples.
type Source interface {
	// Subscribe starts delivery at roughly one sample per interval. The
	// returned channel is closed once ctx is cancelled or the source is lost;
	// a source must release every resource it acquired before closing it.
	// Returns an error wrapping ErrUnavailable if nothing can be delivered.
	Subscribe(ctx context.Context, interval time.Duration) (<-chan logic.Sample, error)
}

// Pacer decides when a polled source takes its next reading.
type Pacer interface {
	Pace(ctx context.Context, interval time.Duration) (<-chan struct{}, error)
}

// TickerPacer paces readings with a fixed-rate ticker.
type TickerPacer struct{}

// Pace emits one tick per interval until ctx is done.
func (TickerPacer) Pace(ctx context.Context, interval time.Duration) (<-chan struct{}, error) {
	ticks := make(chan struct{}, 1)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case ticks <- struct{}{}:
				default: // reader is behind; drop rather than queue
				}
			}
		}
	}()
	return ticks, nil
}

//go:build linux

package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// DRDYPacer paces readings off the accelerometer's data-ready interrupt pin
// instead of a timer, so every reading is a fresh conversion.
type DRDYPacer struct {
	Chip   string // e.g. "gpiochip0"
	Offset int    // BCM line number
}

// Pace requests the line with rising-edge detection. The line is released
// when ctx is done.
func (p DRDYPacer) Pace(ctx context.Context, _ time.Duration) (<-chan struct{}, error) {
	ticks := make(chan struct{}, 1)
	line, err := gpiocdev.RequestLine(p.Chip, p.Offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			select {
			case ticks <- struct{}{}:
			default:
			}
		}))
	if err != nil {
		return nil, fmt.Errorf("request drdy line %d on %s: %w", p.Offset, p.Chip, err)
	}
	go func() {
		<-ctx.Done()
		line.Close()
	}()
	return ticks, nil
}

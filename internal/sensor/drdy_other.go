//go:build !linux

package sensor

import (
	"context"
	"errors"
	"time"
)

// DRDYPacer is not available on non-Linux platforms.
type DRDYPacer struct {
	Chip   string
	Offset int
}

// Pace returns an error on non-Linux platforms.
func (p DRDYPacer) Pace(context.Context, time.Duration) (<-chan struct{}, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

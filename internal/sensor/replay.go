package sensor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// ReplaySource plays back a recorded x,y,z CSV at the subscription rate.
// A header row is skipped. Without Loop the stream closes at end of file.
type ReplaySource struct {
	Path string
	Loop bool
}

// LoadSamples parses an x,y,z CSV.
func LoadSamples(r io.Reader) ([]logic.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []logic.Sample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		var v [3]float64
		bad := false
		for i, f := range rec {
			v[i], err = strconv.ParseFloat(f, 64)
			if err != nil {
				bad = true
				break
			}
		}
		if bad {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		smp := logic.Sample{X: v[0], Y: v[1], Z: v[2]}
		if !smp.Finite() {
			return nil, fmt.Errorf("line %d: non-finite value", line)
		}
		out = append(out, smp)
	}
	return out, nil
}

func (r *ReplaySource) load() ([]logic.Sample, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()
	samples, err := LoadSamples(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnavailable, r.Path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s holds no samples", ErrUnavailable, r.Path)
	}
	return samples, nil
}

// Subscribe loads the recording and starts playback.
func (r *ReplaySource) Subscribe(ctx context.Context, interval time.Duration) (<-chan logic.Sample, error) {
	samples, err := r.load()
	if err != nil {
		return nil, err
	}

	out := make(chan logic.Sample)
	go func() {
		defer close(out)
		t := time.NewTicker(interval)
		defer t.Stop()
		for i := 0; ; i++ {
			if i == len(samples) {
				if !r.Loop {
					return
				}
				i = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			select {
			case out <- samples[i]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// DefaultIIORoot is where the kernel exposes industrial I/O devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// maxReadErrors is how many consecutive failed reads count as a lost device.
const maxReadErrors = 5

// IIOSource reads a Linux IIO accelerometer through sysfs. Values are
// (raw + offset) * scale, which the kernel defines in m/s².
type IIOSource struct {
	// Dir is the device directory, e.g. /sys/bus/iio/devices/iio:device0.
	// Empty means the first device under DefaultIIORoot exposing in_accel_x_raw.
	Dir    string
	Axes   AxisMap
	Pacer  Pacer
	Logger *slog.Logger
}

// NewIIOSource creates a source for the given device directory.
func NewIIOSource(dir string, axes AxisMap, pacer Pacer, logger *slog.Logger) *IIOSource {
	if pacer == nil {
		pacer = TickerPacer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IIOSource{Dir: dir, Axes: axes, Pacer: pacer, Logger: logger}
}

// FindIIOAccel returns the first IIO device under root that has an accelerometer.
func FindIIOAccel(root string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "iio:device*", "in_accel_x_raw"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no IIO accelerometer under %s", ErrUnavailable, root)
	}
	return filepath.Dir(matches[0]), nil
}

type iioChannel struct {
	raw    string
	offset float64
	scale  float64
}

type iioDevice struct {
	dir  string
	axes [3]iioChannel
}

func openIIO(dir string) (*iioDevice, error) {
	if _, err := os.Stat(filepath.Join(dir, "in_accel_x_raw")); err != nil {
		return nil, err
	}
	shared, sharedErr := readFloat(filepath.Join(dir, "in_accel_scale"))
	dev := &iioDevice{dir: dir}
	for i, axis := range []string{"x", "y", "z"} {
		ch := iioChannel{raw: filepath.Join(dir, "in_accel_"+axis+"_raw"), scale: 1}
		if s, err := readFloat(filepath.Join(dir, "in_accel_"+axis+"_scale")); err == nil {
			ch.scale = s
		} else if sharedErr == nil {
			ch.scale = shared
		}
		if o, err := readFloat(filepath.Join(dir, "in_accel_"+axis+"_offset")); err == nil {
			ch.offset = o
		}
		dev.axes[i] = ch
	}
	return dev, nil
}

func (d *iioDevice) read() ([3]float64, error) {
	var v [3]float64
	for i, ch := range d.axes {
		raw, err := readFloat(ch.raw)
		if err != nil {
			return v, err
		}
		v[i] = (raw + ch.offset) * ch.scale
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return v, fmt.Errorf("%s: non-finite value %v", ch.raw, raw)
		}
	}
	return v, nil
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

// Read takes one sample. Used by the probe command.
func (s *IIOSource) Read() (logic.Sample, error) {
	dev, err := s.open()
	if err != nil {
		return logic.Sample{}, err
	}
	v, err := dev.read()
	if err != nil {
		return logic.Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.Axes.Apply(v), nil
}

func (s *IIOSource) open() (*iioDevice, error) {
	dir := s.Dir
	if dir == "" {
		found, err := FindIIOAccel(DefaultIIORoot)
		if err != nil {
			return nil, err
		}
		dir = found
	}
	dev, err := openIIO(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return dev, nil
}

// Subscribe verifies the device answers, then polls it on every pacer tick.
func (s *IIOSource) Subscribe(ctx context.Context, interval time.Duration) (<-chan logic.Sample, error) {
	dev, err := s.open()
	if err != nil {
		return nil, err
	}
	if _, err := dev.read(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pctx, cancel := context.WithCancel(ctx)
	ticks, err := s.Pacer.Pace(pctx, interval)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: pacer: %v", ErrUnavailable, err)
	}

	out := make(chan logic.Sample)
	go func() {
		defer close(out)
		defer cancel()

		failures := 0
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticks:
			}
			v, err := dev.read()
			if err != nil {
				failures++
				s.Logger.Warn("iio read failed", "err", err, "consecutive", failures)
				if failures >= maxReadErrors {
					s.Logger.Error("iio device lost", "dir", dev.dir)
					return
				}
				continue
			}
			failures = 0
			select {
			case out <- s.Axes.Apply(v):
			case <-pctx.Done():
				return
			}
		}
	}()
	return out, nil
}

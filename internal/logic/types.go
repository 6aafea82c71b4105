// Package logic contains the pure turbulence sensing algorithm.
// This package has NO external dependencies (no sensors, MQTT, OS, or clocks).
// Every function is total over finite input and safe to drive from tests with
// synthetic sample sequences.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// StandardGravity is the magnitude that corresponds to a 1.00 G reading.
const StandardGravity = 9.81

// DefaultAlpha is the low-pass coefficient of the signal conditioner.
// 0.15 lets hand shake through, 0.03 hides bumps a passenger can feel.
const DefaultAlpha = 0.05

// Level is a discrete deviation bucket, ordered by severity.
type Level int

const (
	LevelSmooth Level = iota
	LevelLight
	LevelModerate
	LevelSevere
)

var levelNames = [...]string{"SMOOTH", "LIGHT", "MODERATE", "SEVERE"}

func (l Level) String() string {
	if l < LevelSmooth || l > LevelSevere {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name so JSON payloads read "SEVERE", not 3.
func (l Level) MarshalText() ([]byte, error) {
	if l < LevelSmooth || l > LevelSevere {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if string(b) == name {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", b)
}

// Sample is one raw 3-axis acceleration reading, conventionally in m/s².
type Sample struct {
	X, Y, Z float64
}

// Thresholds are the upper bounds of |g − 1| for SMOOTH, LIGHT and MODERATE.
// Anything above Moderate is SEVERE.
type Thresholds struct {
	Smooth   float64 `yaml:"smooth"`
	Light    float64 `yaml:"light"`
	Moderate float64 `yaml:"moderate"`
}

// DefaultThresholds returns the reference classification bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{Smooth: 0.03, Light: 0.07, Moderate: 0.13}
}

// Gates are the minimum occurrence counts a tier needs inside the window to
// win the stabilizer vote. Lower gates on higher tiers escalate quickly;
// a high Light gate is what makes de-escalation to SMOOTH conservative.
type Gates struct {
	Severe   int `yaml:"severe"`
	Moderate int `yaml:"moderate"`
	Light    int `yaml:"light"`
}

// Config parameterizes one engine instance.
type Config struct {
	Alpha           float64       `yaml:"alpha"`
	Window          int           `yaml:"window"`
	Gates           Gates         `yaml:"gates"`
	Thresholds      Thresholds    `yaml:"thresholds"`
	HistoryCap      int           `yaml:"history_cap"`
	WorstRecentN    int           `yaml:"worst_recent_n"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
}

// Default tuning shared by both hosts.
const (
	DefaultHistoryCap      = 300
	DefaultWorstRecentN    = 10
	DefaultRefreshInterval = 500 * time.Millisecond
	DefaultSampleInterval  = 20 * time.Millisecond // ~50 Hz
)

// DefaultWidgetConfig is the tuning for an inline, screen-bound widget.
func DefaultWidgetConfig() Config {
	return Config{
		Alpha:           DefaultAlpha,
		Window:          50,
		Gates:           Gates{Severe: 3, Moderate: 5, Light: 8},
		Thresholds:      DefaultThresholds(),
		HistoryCap:      DefaultHistoryCap,
		WorstRecentN:    DefaultWorstRecentN,
		RefreshInterval: DefaultRefreshInterval,
		SampleInterval:  DefaultSampleInterval,
	}
}

// DefaultOverlayConfig is the tuning for the long-running background overlay.
func DefaultOverlayConfig() Config {
	return Config{
		Alpha:           DefaultAlpha,
		Window:          150,
		Gates:           Gates{Severe: 5, Moderate: 12, Light: 20},
		Thresholds:      DefaultThresholds(),
		HistoryCap:      DefaultHistoryCap,
		WorstRecentN:    DefaultWorstRecentN,
		RefreshInterval: DefaultRefreshInterval,
		SampleInterval:  DefaultSampleInterval,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid engine config")

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	switch {
	case !(c.Alpha > 0 && c.Alpha <= 1):
		return fmt.Errorf("%w: alpha %v not in (0,1]", ErrInvalidConfig, c.Alpha)
	case c.Window < 1:
		return fmt.Errorf("%w: window %d", ErrInvalidConfig, c.Window)
	case c.HistoryCap < 1:
		return fmt.Errorf("%w: history cap %d", ErrInvalidConfig, c.HistoryCap)
	case c.WorstRecentN < 1:
		return fmt.Errorf("%w: worst recent n %d", ErrInvalidConfig, c.WorstRecentN)
	case c.RefreshInterval <= 0:
		return fmt.Errorf("%w: refresh interval %v", ErrInvalidConfig, c.RefreshInterval)
	case c.SampleInterval <= 0:
		return fmt.Errorf("%w: sample interval %v", ErrInvalidConfig, c.SampleInterval)
	}
	for name, g := range map[string]int{"severe": c.Gates.Severe, "moderate": c.Gates.Moderate, "light": c.Gates.Light} {
		if g < 1 || g > c.Window {
			return fmt.Errorf("%w: %s gate %d outside [1,%d]", ErrInvalidConfig, name, g, c.Window)
		}
	}
	t := c.Thresholds
	if !(t.Smooth > 0 && t.Smooth < t.Light && t.Light < t.Moderate) {
		return fmt.Errorf("%w: thresholds must be increasing and positive", ErrInvalidConfig)
	}
	return nil
}

// Reading is the result of feeding one sample through the pipeline.
type Reading struct {
	GForce float64
	Level  Level
	Status Level
}

// Package config loads the daemon configuration from YAML. Every field has a
// default, so an absent file or an empty document is a valid configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/turbulence-sensor/internal/host"
	"github.com/sweeney/turbulence-sensor/internal/logic"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// DRDY configures data-ready pacing through a GPIO line.
type DRDY struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

// Surface is the overlay indicator's drag area.
type Surface struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Size   int `yaml:"size"`
}

// Config is the daemon configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// Broker is the MQTT broker URL; empty disables MQTT.
	Broker string `yaml:"broker"`
	// Source selects the sample source: iio, iio:<dir>, replay:<file>, mqtt.
	Source string `yaml:"source"`
	Axes   string `yaml:"axes"`
	// DRDY, when set, paces the IIO source on data-ready edges.
	DRDY *DRDY `yaml:"drdy"`

	Heartbeat        time.Duration `yaml:"heartbeat"`
	ReadingsInterval time.Duration `yaml:"readings_interval"`
	LogLevel         string        `yaml:"log_level"`

	OverlayAutostart bool    `yaml:"overlay_autostart"`
	Surface          Surface `yaml:"surface"`

	Widget  logic.Config `yaml:"widget"`
	Overlay logic.Config `yaml:"overlay"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		Source:           "iio",
		Axes:             "x,y,z",
		Heartbeat:        15 * time.Minute,
		ReadingsInterval: logic.DefaultRefreshInterval,
		LogLevel:         "info",
		Surface: Surface{
			Width:  host.DefaultSurface.Width,
			Height: host.DefaultSurface.Height,
			Size:   host.DefaultSurface.Size,
		},
		Widget:  logic.DefaultWidgetConfig(),
		Overlay: logic.DefaultOverlayConfig(),
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML document over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HostSurface converts the drag area for the overlay host.
func (c Config) HostSurface() host.Surface {
	return host.Surface{Width: c.Surface.Width, Height: c.Surface.Height, Size: c.Surface.Size}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := c.Widget.Validate(); err != nil {
		return fmt.Errorf("%w: widget: %v", ErrInvalid, err)
	}
	if err := c.Overlay.Validate(); err != nil {
		return fmt.Errorf("%w: overlay: %v", ErrInvalid, err)
	}
	// Both hosts read one shared upstream, which runs at a single rate.
	if c.Widget.SampleInterval != c.Overlay.SampleInterval {
		return fmt.Errorf("%w: widget and overlay sample_interval differ (%v, %v)",
			ErrInvalid, c.Widget.SampleInterval, c.Overlay.SampleInterval)
	}
	if _, _, err := ParseSource(c.Source); err != nil {
		return err
	}
	if _, err := sensor.ParseAxisMap(c.Axes); err != nil {
		return fmt.Errorf("%w: axes: %v", ErrInvalid, err)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat %v", ErrInvalid, c.Heartbeat)
	}
	if c.ReadingsInterval < 0 {
		return fmt.Errorf("%w: readings interval %v", ErrInvalid, c.ReadingsInterval)
	}
	if c.Surface.Size <= 0 || c.Surface.Width < c.Surface.Size || c.Surface.Height < c.Surface.Size {
		return fmt.Errorf("%w: surface %dx%d cannot hold a %d indicator",
			ErrInvalid, c.Surface.Width, c.Surface.Height, c.Surface.Size)
	}
	if c.DRDY != nil && (c.DRDY.Chip == "" || c.DRDY.Line < 0) {
		return fmt.Errorf("%w: drdy needs a chip and a non-negative line", ErrInvalid)
	}
	if kind, _, _ := ParseSource(c.Source); kind == SourceMQTT && c.Broker == "" {
		return fmt.Errorf("%w: mqtt source needs a broker", ErrInvalid)
	}
	return nil
}

// Source kinds accepted by ParseSource.
const (
	SourceIIO    = "iio"
	SourceReplay = "replay"
	SourceMQTT   = "mqtt"
)

// ParseSource splits "kind[:arg]".
func ParseSource(s string) (kind, arg string, err error) {
	kind, arg, _ = strings.Cut(strings.TrimSpace(s), ":")
	switch kind {
	case SourceIIO, SourceMQTT:
		return kind, arg, nil
	case SourceReplay:
		if arg == "" {
			return "", "", fmt.Errorf("%w: replay source needs a file", ErrInvalid)
		}
		return kind, arg, nil
	}
	return "", "", fmt.Errorf("%w: unknown source %q", ErrInvalid, s)
}

// Command turbulence-sensor reads an accelerometer, classifies turbulence and
// serves it to a live widget feed, a floating overlay and MQTT.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/sweeney/turbulence-sensor/internal/config"
)

var version = "dev"

// flags holds command-line overrides applied on top of the config file.
type flags struct {
	configPath string
	httpAddr   string
	broker     string
	source     string
	axes       string
	drdyChip   string
	drdyLine   int
	heartbeat  time.Duration
	logLevel   string
	overlay    bool
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:   "turbulence-sensor",
		Short: "Turbulence sensing daemon",
		Long: `turbulence-sensor filters accelerometer samples into a G-force reading,
classifies it as SMOOTH, LIGHT, MODERATE or SEVERE and stabilizes the status
shown by two hosts: a live widget feed on /ws and a floating overlay whose
notification is published to MQTT.

Sources:
  iio              first IIO accelerometer under /sys/bus/iio/devices
  iio:<dir>        a specific IIO device directory
  replay:<file>    an x,y,z CSV recording
  mqtt             JSON samples from the broker`,
		Version:      version,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.source, "source", "", "sample source (iio, iio:<dir>, replay:<file>, mqtt)")
	pf.StringVar(&f.axes, "axes", "", `axis mapping, e.g. "-y,x,z"`)
	pf.StringVar(&f.drdyChip, "drdy-chip", "", "GPIO chip for the data-ready line")
	pf.IntVar(&f.drdyLine, "drdy-line", 0, "GPIO line offset for data-ready pacing")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, newLogger(cfg.LogLevel))
		},
	}
	run.Flags().StringVar(&f.httpAddr, "http", "", "HTTP status address (empty keeps the config value)")
	run.Flags().StringVar(&f.broker, "broker", "", "MQTT broker URL")
	run.Flags().DurationVar(&f.heartbeat, "heartbeat", 0, "heartbeat interval (0 disables)")
	run.Flags().BoolVar(&f.overlay, "overlay", false, "start the overlay on boot")

	probe := &cobra.Command{
		Use:   "probe",
		Short: "Take one reading from the configured source and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), cfg, newLogger(cfg.LogLevel))
		},
	}
	probe.Flags().StringVar(&f.broker, "broker", "", "MQTT broker URL")

	root.AddCommand(run, probe)

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flags that were set.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	set := cmd.Flags().Changed
	if set("http") {
		cfg.HTTPAddr = f.httpAddr
	}
	if set("broker") {
		cfg.Broker = f.broker
	}
	if set("source") {
		cfg.Source = f.source
	}
	if set("axes") {
		cfg.Axes = f.axes
	}
	if set("drdy-chip") || set("drdy-line") {
		cfg.DRDY = &config.DRDY{Chip: f.drdyChip, Line: f.drdyLine}
		if cfg.DRDY.Chip == "" {
			cfg.DRDY.Chip = "gpiochip0"
		}
	}
	if set("heartbeat") {
		cfg.Heartbeat = f.heartbeat
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if set("overlay") {
		cfg.OverlayAutostart = f.overlay
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	}))
}

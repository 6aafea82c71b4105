package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/config"
	"github.com/sweeney/turbulence-sensor/internal/logic"
	"github.com/sweeney/turbulence-sensor/internal/mqtt"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
)

const probeTimeout = 3 * time.Second

// runProbe takes one sample from the configured source and prints it.
func runProbe(ctx context.Context, w io.Writer, cfg config.Config, logger *slog.Logger) error {
	var sub mqtt.Subscriber
	if cfg.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.Broker, Logger: logger})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		sub = pub
	}
	src, err := buildSource(cfg, sub, logger)
	if err != nil {
		return err
	}

	s, err := firstSample(ctx, src, cfg.Overlay.SampleInterval)
	if err != nil {
		return err
	}
	printSample(w, s)
	return nil
}

// firstSample reads one sample, directly for IIO devices and otherwise from
// a short-lived subscription.
func firstSample(ctx context.Context, src sensor.Source, interval time.Duration) (logic.Sample, error) {
	if iio, ok := src.(*sensor.IIOSource); ok {
		return iio.Read()
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	ch, err := src.Subscribe(ctx, interval)
	if err != nil {
		return logic.Sample{}, err
	}
	select {
	case s, ok := <-ch:
		if !ok {
			return logic.Sample{}, fmt.Errorf("%w: stream ended before a sample arrived", sensor.ErrUnavailable)
		}
		return s, nil
	case <-ctx.Done():
		return logic.Sample{}, fmt.Errorf("%w: no sample within %v", sensor.ErrUnavailable, probeTimeout)
	}
}

func printSample(w io.Writer, s logic.Sample) {
	m := logic.Magnitude(s)
	fmt.Fprintf(w, "x=%.3f y=%.3f z=%.3f |a|=%.3f m/s² (%.3f G)\n",
		s.X, s.Y, s.Z, m, m/logic.StandardGravity)
}

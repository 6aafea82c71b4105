package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/turbulence-sensor/internal/config"
	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/host"
	"github.com/sweeney/turbulence-sensor/internal/mqtt"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
	"github.com/sweeney/turbulence-sensor/internal/status"
	"github.com/sweeney/turbulence-sensor/internal/web"
)

const shutdownTimeout = 5 * time.Second

// buildSource creates the configured sample source. sub is only used by the
// mqtt source and may be nil otherwise.
func buildSource(cfg config.Config, sub mqtt.Subscriber, logger *slog.Logger) (sensor.Source, error) {
	kind, arg, err := config.ParseSource(cfg.Source)
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.SourceReplay:
		return &sensor.ReplaySource{Path: arg, Loop: true}, nil
	case config.SourceMQTT:
		if sub == nil {
			return nil, fmt.Errorf("%w: mqtt source needs a broker", config.ErrInvalid)
		}
		return mqtt.NewSampleSource(sub, logger), nil
	}

	axes, err := sensor.ParseAxisMap(cfg.Axes)
	if err != nil {
		return nil, err
	}
	var pacer sensor.Pacer = sensor.TickerPacer{}
	if cfg.DRDY != nil {
		pacer = sensor.DRDYPacer{Chip: cfg.DRDY.Chip, Offset: cfg.DRDY.Line}
	}
	return sensor.NewIIOSource(arg, axes, pacer, logger.With("component", "iio")), nil
}

// daemon holds the wired components the main loop drives.
type daemon struct {
	log       *slog.Logger
	pub       mqtt.Publisher        // nil without a broker
	conn      mqtt.ConnectionStatus // nil without a broker
	tracker   *status.Tracker
	telemetry *mqtt.Telemetry // nil without a broker
	widget    *host.Widget
	overlay   *host.Overlay
	heartbeat time.Duration
}

func runDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d := &daemon{log: logger, heartbeat: cfg.Heartbeat}

	var client *mqtt.RealPublisher
	if cfg.Broker != "" {
		var err error
		client, err = mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.Broker, Logger: logger})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer client.Close()
		d.pub, d.conn = client, client
		d.telemetry = mqtt.NewTelemetry(client, logger, time.Now)
	}

	var sub mqtt.Subscriber
	if client != nil {
		sub = client
	}
	src, err := buildSource(cfg, sub, logger)
	if err != nil {
		return err
	}
	shared := sensor.NewShared(src)

	widgetEng, err := engine.New("widget", cfg.Widget, shared, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	overlayEng, err := engine.New("overlay", cfg.Overlay, shared, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	var notifier host.Notifier
	if d.pub != nil {
		notifier = mqtt.Notifier{Publisher: d.pub}
	}
	d.widget = host.NewWidget(widgetEng, logger)
	d.overlay = host.NewOverlay(overlayEng, notifier, cfg.HostSurface(), logger)

	d.tracker = status.NewTracker(time.Now(), status.Config{
		SampleMs:    cfg.Overlay.SampleInterval.Milliseconds(),
		RefreshMs:   cfg.Overlay.RefreshInterval.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		Source:      cfg.Source,
	})
	for _, eng := range []*engine.Engine{widgetEng, overlayEng} {
		defer d.tracker.Watch(eng)()
		if d.telemetry != nil {
			defer d.telemetry.Watch(eng)()
		}
	}
	d.refresh()

	if client != nil {
		err := mqtt.ListenCommands(client, func(cmd string) {
			// Commands arrive on the client's router goroutine; starting the
			// overlay may block on the sensor, so hand it off.
			go func() {
				if err := d.overlay.HandleCommand(context.Background(), cmd); err != nil {
					logger.Warn("overlay command failed", "cmd", cmd, "err", err)
				}
			}()
		})
		if err != nil {
			logger.Warn("subscribe to overlay commands failed", "err", err)
		}
	}

	d.publishSystem("STARTUP", "", time.Now())

	if cfg.OverlayAutostart {
		if err := d.overlay.Start(context.Background()); err != nil {
			logger.Warn("overlay autostart failed", "err", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, d.tracker, d.widget, d.overlay, logger)
		g.Go(func() error {
			logger.Info("http status server listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}
	if d.telemetry != nil {
		g.Go(func() error { return d.telemetry.Run(gctx) })
	}

	logger.Info("started",
		"source", cfg.Source,
		"broker", cfg.Broker,
		"heartbeat", cfg.Heartbeat,
		"readings", cfg.ReadingsInterval)

	g.Go(func() error {
		defer cancel()

		readings := time.NewTicker(readingsInterval(cfg.ReadingsInterval))
		defer readings.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		return d.runLoop(gctx, time.Now, readings.C, sigCh)
	})

	err = g.Wait()
	d.overlay.Stop("shutdown")
	widgetEng.Stop()
	return err
}

func readingsInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

// runLoop refreshes the status tracker and publishes readings and heartbeats
// on every tick until a signal arrives or ctx is done.
func (d *daemon) runLoop(ctx context.Context, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()
	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-sig:
			d.log.Info("shutting down", "signal", s)
			reason := "UNKNOWN"
			switch s {
			case syscall.SIGINT:
				reason = "SIGINT"
			case syscall.SIGTERM:
				reason = "SIGTERM"
			}
			d.refresh()
			d.publishSystem("SHUTDOWN", reason, now())
			return nil

		case <-tick:
			t := now()
			d.refresh()
			if d.telemetry != nil {
				d.telemetry.PublishReadings(d.widget.Engine(), d.overlay.Engine())
			}
			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				snap := d.tracker.Snapshot()
				d.log.Info("heartbeat",
					"uptime", snap.Uptime().Truncate(time.Second),
					"viewers", snap.Viewers,
					"overlay", snap.Overlay.Running)
				d.publishSystem("HEARTBEAT", "", t)
			}
		}
	}
}

// refresh copies the current engine, host and broker state into the tracker.
func (d *daemon) refresh() {
	d.tracker.UpdateEngine(d.widget.Engine().Snapshot())
	d.tracker.UpdateEngine(d.overlay.Engine().Snapshot())
	d.tracker.SetOverlay(d.overlay.State())
	d.tracker.SetViewers(d.widget.Viewers())
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
}

func (d *daemon) publishSystem(event, reason string, t time.Time) {
	if d.pub == nil {
		return
	}
	ev := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), event, reason),
	}
	if err := d.pub.PublishSystem(ev); err != nil {
		d.log.Warn("publish system event failed", "event", event, "err", err)
		return
	}
	d.log.Info("published system event", "event", event)
}

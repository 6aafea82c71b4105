package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/logic"
)

const telemetryQueue = 64

// Telemetry bridges engine updates to a Publisher. Engine callbacks only
// enqueue; Run does the publishing.
type Telemetry struct {
	pub     Publisher
	log     *slog.Logger
	now     func() time.Time
	queue   chan StatusEvent
	dropped atomic.Int64
}

// NewTelemetry creates a bridge publishing through pub.
func NewTelemetry(pub Publisher, logger *slog.Logger, now func() time.Time) *Telemetry {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Telemetry{
		pub:   pub,
		log:   logger.With("component", "telemetry"),
		now:   now,
		queue: make(chan StatusEvent, telemetryQueue),
	}
}

// Watch publishes status transitions and sensor loss of eng.
func (t *Telemetry) Watch(eng *engine.Engine) (unwatch func()) {
	name := eng.Name()
	var (
		session string
		prev    logic.Level
	)
	// Runs on the engine's sample goroutine, so session and prev need no lock.
	return eng.Subscribe(func(u engine.Update) {
		if u.Session != session {
			session, prev = u.Session, logic.LevelSmooth
		}
		if !u.Changed {
			return
		}
		ev := StatusEvent{
			Timestamp: u.Time,
			Host:      name,
			Session:   u.Session,
			Type:      EventStatusChange,
			From:      prev,
			To:        u.Status,
			GForce:    u.GForce,
		}
		if !u.Available {
			ev.Type = EventSensorLost
			ev.From = u.Status
		}
		prev = u.Status
		select {
		case t.queue <- ev:
		default:
			t.dropped.Add(1)
		}
	})
}

// Run publishes queued events until ctx is done, then flushes what is left.
func (t *Telemetry) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-t.queue:
			t.publishEvent(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-t.queue:
					t.publishEvent(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (t *Telemetry) publishEvent(ev StatusEvent) {
	if err := t.pub.PublishEvent(ev); err != nil {
		t.log.Warn("publish event failed", "host", ev.Host, "err", err)
		return
	}
	t.log.Info("status event",
		"host", ev.Host,
		"event", ev.Type,
		"to", strings.ToLower(ev.To.String()))
}

// PublishReadings sends one reading per running engine.
func (t *Telemetry) PublishReadings(engines ...*engine.Engine) {
	for _, eng := range engines {
		s := eng.Snapshot()
		if s.State != engine.StateRunning || s.Samples == 0 {
			continue
		}
		r := Reading{
			Timestamp:   t.now(),
			Host:        s.Name,
			Session:     s.Session,
			GForce:      s.GForce,
			Status:      s.Status,
			WorstRecent: s.WorstRecent,
			Min:         s.Min,
			Max:         s.Max,
		}
		if err := t.pub.PublishReading(r); err != nil {
			t.log.Warn("publish reading failed", "host", s.Name, "err", err)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (t *Telemetry) Dropped() int64 {
	return t.dropped.Load()
}

// ListenCommands routes overlay commands from TopicCommand to handle.
func ListenCommands(sub Subscriber, handle func(cmd string)) error {
	return sub.Subscribe(TopicCommand, func(payload []byte) {
		handle(strings.TrimSpace(string(payload)))
	})
}

// Package engine runs one turbulence monitoring session at a time: it owns
// the sample subscription, feeds every sample through the logic pipeline and
// publishes immutable snapshots to readers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/turbulence-sensor/internal/logic"
	"github.com/sweeney/turbulence-sensor/internal/sensor"
)

var (
	// ErrSensorUnavailable is returned by Start when the source cannot deliver.
	ErrSensorUnavailable = errors.New("sensor unavailable")

	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("session already running")
)

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is a restartable monitoring session bound to one sample source.
type Engine struct {
	name string
	cfg  logic.Config
	src  sensor.Source
	log  *slog.Logger
	now  func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	// mu guards everything below. The sample handler is the only writer of
	// the pipeline; the refresh task only reads it.
	mu       sync.Mutex
	pipeline *logic.Pipeline
	session  string
	state    State
	started  time.Time
	worst    float64
	hasWorst bool
	lastErr  string
	// history is the charting buffer copy carried by snapshots. It is taken
	// on the refresh cadence, not per sample.
	history []float64

	snap atomic.Pointer[Snapshot]

	subsMu  sync.RWMutex
	subs    map[int]func(Update)
	nextSub int
}

// New creates an idle engine.
func New(name string, cfg logic.Config, src sensor.Source, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", name, err)
	}
	if src == nil {
		return nil, fmt.Errorf("engine %s: nil source", name)
	}
	e := &Engine{
		name: name,
		cfg:  cfg,
		src:  src,
		log:  slog.Default(),
		now:  time.Now,
		subs: make(map[int]func(Update)),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "engine", "engine", name)
	e.snap.Store(&Snapshot{Name: name, State: StateIdle, Config: cfg})
	return e, nil
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.name
}

// Config returns the engine tuning.
func (e *Engine) Config() logic.Config {
	return e.cfg
}

// Start subscribes to the source and begins a fresh session. Every Start
// gets a new pipeline: filter reseeded at 1 G, empty window and history,
// unseeded extremes.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
			// Previous session ended on its own (source lost); clean up.
			e.cancel()
			e.cancel, e.done = nil, nil
		default:
			return ErrAlreadyRunning
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	ch, err := e.src.Subscribe(sctx, e.cfg.SampleInterval)
	if err != nil {
		cancel()
		e.mu.Lock()
		e.pipeline = nil
		e.history = nil
		e.state = StateUnavailable
		e.lastErr = err.Error()
		e.publishLocked()
		e.mu.Unlock()
		e.log.Warn("sensor unavailable at start", "err", err)
		return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}

	e.mu.Lock()
	e.pipeline = logic.NewPipeline(e.cfg)
	e.session = uuid.NewString()
	e.state = StateRunning
	e.started = e.now()
	e.worst, e.hasWorst = 1.0, false
	e.lastErr = ""
	e.history = nil
	e.publishLocked()
	session := e.session
	e.mu.Unlock()

	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.handle(sctx, cancel, ch)
	}()
	go func() {
		defer wg.Done()
		e.refresh(sctx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	e.log.Info("session started", "session", session, "window", e.cfg.Window, "alpha", e.cfg.Alpha)
	return nil
}

// Stop ends the session. When Stop returns the source has released its
// stream and no subscriber callback will fire for this session.
// Stop is idempotent.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.done == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil

	e.mu.Lock()
	session := e.session
	e.pipeline = nil
	e.history = nil
	e.session = ""
	e.state = StateIdle
	e.hasWorst = false
	e.lastErr = ""
	e.publishLocked()
	e.mu.Unlock()

	e.log.Info("session stopped", "session", session)
}

// Running reports whether a session is currently receiving samples.
func (e *Engine) Running() bool {
	return e.Snapshot().State == StateRunning
}

// handle is the single writer: one pipeline step per sample, then publish.
func (e *Engine) handle(ctx context.Context, cancel context.CancelFunc, ch <-chan logic.Sample) {
	for s := range ch {
		e.mu.Lock()
		if e.pipeline == nil {
			e.mu.Unlock()
			continue
		}
		prev := e.pipeline.Status()
		r := e.pipeline.Process(s)
		snap := e.publishLocked()
		e.mu.Unlock()

		if r.Status != prev {
			e.log.Info("status changed", "from", prev, "to", r.Status, "g", r.GForce)
		}
		e.notify(Update{
			Session:   snap.Session,
			Time:      e.now(),
			GForce:    r.GForce,
			Level:     r.Level,
			Status:    r.Status,
			Available: true,
			Changed:   r.Status != prev,
		})
	}

	if ctx.Err() != nil {
		e.mu.Lock()
		samples := 0
		if e.pipeline != nil {
			samples = e.pipeline.Samples()
		}
		e.pipeline = nil
		e.history = nil
		e.state = StateIdle
		e.hasWorst = false
		snap := e.publishLocked()
		e.mu.Unlock()
		e.log.Info("session ended", "session", snap.Session, "samples", samples)
		return
	}

	// Stream closed underneath us: the source is gone.
	cancel()
	e.mu.Lock()
	e.state = StateUnavailable
	e.lastErr = sensor.ErrUnavailable.Error()
	if e.pipeline != nil {
		e.history = e.pipeline.History().Snapshot()
	}
	snap := e.publishLocked()
	e.mu.Unlock()

	e.log.Error("sensor lost mid-session", "session", snap.Session)
	e.notify(Update{
		Session:   snap.Session,
		Time:      e.now(),
		GForce:    snap.GForce,
		Level:     snap.Level,
		Status:    snap.Status,
		Available: false,
		Changed:   true,
	})
}

// refresh recomputes the worst recent reading on its own cadence.
func (e *Engine) refresh(ctx context.Context) {
	t := time.NewTicker(e.cfg.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.refreshOnce()
		}
	}
}

func (e *Engine) refreshOnce() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pipeline == nil || e.state != StateRunning {
		return
	}
	e.worst, e.hasWorst = e.pipeline.WorstRecent()
	e.history = e.pipeline.History().Snapshot()
	e.publishLocked()
}

// publishLocked builds and stores a new snapshot. Caller holds e.mu.
// Snapshots share the history slice, which is replaced, never written.
func (e *Engine) publishLocked() *Snapshot {
	s := &Snapshot{
		Name:        e.name,
		Session:     e.session,
		State:       e.state,
		Err:         e.lastErr,
		Started:     e.started,
		WorstRecent: e.worst,
		HasWorst:    e.hasWorst,
		Config:      e.cfg,
		History:     e.history,
	}
	if p := e.pipeline; p != nil {
		r := p.Last()
		s.Samples = p.Samples()
		s.GForce, s.Level, s.Status = r.GForce, r.Level, r.Status
		s.Min, s.Max, s.HasExtremes = p.History().Extremes()
	}
	if e.state == StateIdle {
		s.Started = time.Time{}
	}
	e.snap.Store(s)
	return s
}

// Snapshot returns the latest published state. The value must be treated as
// read-only.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// History returns a copy of the current charting buffer, oldest first.
// Unlike Snapshot().History it includes the samples since the last refresh.
func (e *Engine) History() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pipeline == nil {
		return nil
	}
	return e.pipeline.History().Snapshot()
}

// Extremes returns the session min and max G-force. ok is false until the
// session has seen a sample.
func (e *Engine) Extremes() (min, max float64, ok bool) {
	s := e.snap.Load()
	return s.Min, s.Max, s.HasExtremes
}

// WorstRecent returns the display value from the last periodic refresh.
func (e *Engine) WorstRecent() (float64, bool) {
	s := e.snap.Load()
	return s.WorstRecent, s.HasWorst
}

// Subscribe registers fn for every update. Callbacks run on the sample
// goroutine and must not block. The returned func unsubscribes; it is safe
// to call more than once.
func (e *Engine) Subscribe(fn func(Update)) (unsubscribe func()) {
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			e.subsMu.Unlock()
		})
	}
}

func (e *Engine) notify(u Update) {
	e.subsMu.RLock()
	fns := make([]func(Update), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subsMu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

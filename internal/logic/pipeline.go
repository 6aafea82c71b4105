package logic

// Pipeline chains conditioner, classifier, stabilizer and history for one
// session. Each Process call handles exactly one sample in O(1).
// Not safe for concurrent use; the engine confines it to one writer.
type Pipeline struct {
	cfg         Config
	conditioner *Conditioner
	window      *Window
	history     *History
	status      Level
	last        Reading
	samples     int
}

// NewPipeline creates a pipeline in its initial state: filter seeded at
// 1 G, empty window and history, status SMOOTH.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		conditioner: NewConditioner(cfg.Alpha),
		window:      NewWindow(cfg.Window),
		history:     NewHistory(cfg.HistoryCap),
		last:        Reading{GForce: 1.0},
	}
}

// Process feeds one raw sample through the conditioner and both downstream
// consumers and returns the resulting reading.
func (p *Pipeline) Process(s Sample) Reading {
	p.conditioner.Update(s)
	g := p.conditioner.GForce()

	level := Classify(g, p.cfg.Thresholds)
	p.window.Push(level)
	p.status = Stabilize(p.window, p.cfg.Gates)

	p.history.Push(g)

	p.samples++
	p.last = Reading{GForce: g, Level: level, Status: p.status}
	return p.last
}

// Last returns the most recent reading (1 G, SMOOTH before any sample).
func (p *Pipeline) Last() Reading {
	return p.last
}

// Status returns the stabilized status.
func (p *Pipeline) Status() Level {
	return p.status
}

// Samples returns how many samples have been processed.
func (p *Pipeline) Samples() int {
	return p.samples
}

// History exposes the charting buffer and extremes.
func (p *Pipeline) History() *History {
	return p.history
}

// Window exposes the classification window.
func (p *Pipeline) Window() *Window {
	return p.window
}

// WorstRecent returns the display value for the periodic refresh.
func (p *Pipeline) WorstRecent() (float64, bool) {
	return p.history.WorstRecent(p.cfg.WorstRecentN)
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

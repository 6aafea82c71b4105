package engine

import (
	"fmt"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// State is the lifecycle state of an engine.
type State int

const (
	StateIdle State = iota
	StateRunning
	// StateUnavailable means the sensor could not be opened or went away.
	// Readings are not to be shown as current in this state.
	StateUnavailable
)

var stateNames = [...]string{"IDLE", "RUNNING", "UNAVAILABLE"}

func (s State) String() string {
	if s < StateIdle || s > StateUnavailable {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Update is delivered to subscribers after every sample, and once more
// with Available=false if the source is lost.
type Update struct {
	Session   string
	Time      time.Time
	GForce    float64
	Level     logic.Level
	Status    logic.Level
	Available bool
	// Changed is set when Status differs from the previous update.
	Changed bool
}

// Snapshot is a point-in-time view of an engine.
// It is immutable once published; readers must not modify History.
type Snapshot struct {
	Name        string
	Session     string
	State       State
	Err         string
	Started     time.Time
	Samples     int
	GForce      float64
	Level       logic.Level
	Status      logic.Level
	WorstRecent float64
	HasWorst    bool
	Min         float64
	Max         float64
	HasExtremes bool
	// History is the charting buffer as of the last refresh.
	History []float64
	Config      logic.Config
}

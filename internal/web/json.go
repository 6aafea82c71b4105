package web

import (
	"encoding/json"
	"math"

	"github.com/sweeney/turbulence-sensor/internal/engine"
)

// HistoryJSON is the JSON representation of one engine's charting buffer.
type HistoryJSON struct {
	History HistoryInner `json:"history"`
}

// HistoryInner contains the history details.
type HistoryInner struct {
	Host    string    `json:"host"`
	State   string    `json:"state"`
	Session string    `json:"session,omitempty"`
	Samples []float64 `json:"samples"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
}

// LiveJSON is one message on the live widget feed.
type LiveJSON struct {
	State   string  `json:"state"`
	Session string  `json:"session,omitempty"`
	GForce  float64 `json:"g_force,omitempty"`
	Level   string  `json:"level,omitempty"`
	Status  string  `json:"status,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// formatHistoryJSON only exposes the buffer of a running engine; an idle or
// unavailable engine reports an empty history.
func formatHistoryJSON(s *engine.Snapshot) []byte {
	h := HistoryInner{
		Host:    s.Name,
		State:   s.State.String(),
		Session: s.Session,
		Samples: []float64{},
	}
	if s.State != engine.StateRunning {
		data, _ := json.Marshal(HistoryJSON{History: h})
		return data
	}
	h.Samples = make([]float64, len(s.History))
	for i, g := range s.History {
		h.Samples[i] = round3(g)
	}
	if s.HasExtremes {
		lo, hi := round3(s.Min), round3(s.Max)
		h.Min, h.Max = &lo, &hi
	}
	data, _ := json.Marshal(HistoryJSON{History: h})
	return data
}

func liveJSON(u engine.Update) LiveJSON {
	if !u.Available {
		return LiveJSON{State: engine.StateUnavailable.String(), Session: u.Session}
	}
	return LiveJSON{
		State:   engine.StateRunning.String(),
		Session: u.Session,
		GForce:  round3(u.GForce),
		Level:   u.Level.String(),
		Status:  u.Status.String(),
	}
}

func unavailableJSON(err error) LiveJSON {
	return LiveJSON{State: engine.StateUnavailable.String(), Error: err.Error()}
}

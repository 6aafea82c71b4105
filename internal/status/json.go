package status

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/engine"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Engines       []EngineJSON `json:"engines"`
	Overlay       OverlayJSON  `json:"overlay"`
	Viewers       int          `json:"viewers"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// EngineJSON is the JSON representation of one engine.
type EngineJSON struct {
	Name        string          `json:"name"`
	State       string          `json:"state"`
	Error       string          `json:"error,omitempty"`
	Session     string          `json:"session,omitempty"`
	Samples     int             `json:"samples"`
	Window      int             `json:"window"`
	Reading     *ReadingJSON    `json:"reading,omitempty"`
	Transitions TransitionsJSON `json:"transitions"`
}

// ReadingJSON holds display values. Omitted unless the engine is running,
// so stale numbers are never shown as current.
type ReadingJSON struct {
	GForce      float64  `json:"g_force"`
	Level       string   `json:"level"`
	Status      string   `json:"status"`
	WorstRecent *float64 `json:"worst_recent,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
}

// TransitionsJSON is the JSON representation of transition counts.
type TransitionsJSON struct {
	Smooth     int `json:"smooth"`
	Light      int `json:"light"`
	Moderate   int `json:"moderate"`
	Severe     int `json:"severe"`
	SensorLost int `json:"sensor_lost"`
}

// OverlayJSON is the JSON representation of the overlay host.
type OverlayJSON struct {
	Running   bool   `json:"running"`
	Indicator string `json:"indicator"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Text      string `json:"notification"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SampleMs    int64  `json:"sample_ms"`
	RefreshMs   int64  `json:"refresh_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Source      string `json:"source"`
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func ptr(v float64) *float64 {
	v = round3(v)
	return &v
}

func buildEngine(e EngineStatus) EngineJSON {
	s := e.Snap
	ej := EngineJSON{
		Name:    s.Name,
		State:   s.State.String(),
		Error:   s.Err,
		Session: s.Session,
		Samples: s.Samples,
		Window:  s.Config.Window,
		Transitions: TransitionsJSON{
			Smooth:     e.Transitions.Smooth,
			Light:      e.Transitions.Light,
			Moderate:   e.Transitions.Moderate,
			Severe:     e.Transitions.Severe,
			SensorLost: e.Transitions.SensorLost,
		},
	}
	if s.State == engine.StateRunning {
		r := &ReadingJSON{
			GForce: round3(s.GForce),
			Level:  s.Level.String(),
			Status: s.Status.String(),
		}
		if s.HasWorst {
			r.WorstRecent = ptr(s.WorstRecent)
		}
		if s.HasExtremes {
			r.Min, r.Max = ptr(s.Min), ptr(s.Max)
		}
		ej.Reading = r
	}
	return ej
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Engines:       make([]EngineJSON, 0, len(snap.Engines)),
		Overlay: OverlayJSON{
			Running:   snap.Overlay.Running,
			Indicator: "HIDDEN",
			X:         snap.Overlay.Indicator.X,
			Y:         snap.Overlay.Indicator.Y,
			Text:      snap.Overlay.Notification.Text,
		},
		Viewers: snap.Viewers,
		Config: ConfigJSON{
			SampleMs:    snap.Config.SampleMs,
			RefreshMs:   snap.Config.RefreshMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Source:      snap.Config.Source,
		},
	}
	if snap.Overlay.Indicator.Visible {
		inner.Overlay.Indicator = "VISIBLE"
	}
	for _, e := range snap.Engines {
		inner.Engines = append(inner.Engines, buildEngine(e))
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = strings.ToUpper(event)
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

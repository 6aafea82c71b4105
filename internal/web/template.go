package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/engine"
	"github.com/sweeney/turbulence-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"g": func(v float64) string {
		return fmt.Sprintf("%.2f G", v)
	},
	"lower": func(v fmt.Stringer) string {
		return strings.ToLower(v.String())
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Turbulence Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.smooth { color: green; font-weight: bold; }
.light { color: #b8a000; font-weight: bold; }
.moderate { color: orange; font-weight: bold; }
.severe { color: red; font-weight: bold; }
.unavailable { color: red; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
svg { width: 100%; background: #ffe9d6; border: 1px solid #ddd; }
rect.moderate { fill: #fff6dc; }
rect.light { fill: #fdfbe6; }
rect.smooth { fill: #eef7e8; }
svg polyline { fill: none; stroke: #333; stroke-width: 1.5; }
svg line { stroke: #aaa; stroke-dasharray: 4 4; }
</style>
</head>
<body>
<h1>Turbulence Sensor</h1>

{{range .Engines}}
<h2>{{.Snap.Name}}</h2>
<table>
<tr><th>State</th><td class="{{lower .Snap.State}}">{{.Snap.State}}{{if .Snap.Err}} ({{.Snap.Err}}){{end}}</td></tr>
{{if .Running}}
<tr><th>Status</th><td class="{{lower .Snap.Status}}">{{.Snap.Status}}</td></tr>
<tr><th>G-force</th><td>{{g .Snap.GForce}}</td></tr>
<tr><th>Worst recent</th><td>{{if .Snap.HasWorst}}{{g .Snap.WorstRecent}}{{else}}-{{end}}</td></tr>
<tr><th>Min / Max</th><td>{{if .Snap.HasExtremes}}{{g .Snap.Min}} / {{g .Snap.Max}}{{else}}-{{end}}</td></tr>
<tr><th>Samples</th><td>{{.Snap.Samples}}</td></tr>
{{end}}
<tr><th>Window</th><td>{{.Snap.Config.Window}}</td></tr>
<tr><th>Transitions</th><td>{{.Transitions.Total}}</td></tr>
</table>
{{if .Running}}
<svg viewBox="0 0 {{.Chart.Width}} {{.Chart.Height}}" preserveAspectRatio="none">
{{range .Chart.Bands}}<rect class="{{.Class}}" x="0" y="{{.Top}}" width="100%" height="{{.Span}}"></rect>
{{end}}<line x1="0" x2="{{.Chart.Width}}" y1="{{.Chart.Baseline}}" y2="{{.Chart.Baseline}}"></line>
{{if .Chart.Points}}<polyline points="{{.Chart.Points}}"></polyline>{{end}}
</svg>
{{end}}
{{end}}

<h2>Overlay</h2>
<table>
<tr><th>Running</th><td>{{if .Overlay.Running}}yes{{else}}no{{end}}</td></tr>
<tr><th>Indicator</th><td>{{if .Overlay.Indicator.Visible}}at {{.Overlay.Indicator.X}},{{.Overlay.Indicator.Y}}{{else}}hidden{{end}}</td></tr>
<tr><th>Notification</th><td>{{.Overlay.Notification.Text}}</td></tr>
</table>
{{if .Overlay.Running}}<form method="post" action="/overlay/stop"><button type="submit">Stop</button></form>
{{else}}<form method="post" action="/overlay/start"><button type="submit">Start</button></form>{{end}}

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Widget viewers</th><td>{{.Viewers}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample interval</th><td>{{.Config.SampleMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">History</a></p>
</body>
</html>
`

// engineView adds render-only fields to an engine's status.
type engineView struct {
	status.EngineStatus
	Running bool
	Chart   chart
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Engines []engineView
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	for _, e := range snap.Engines {
		v := engineView{EngineStatus: e, Running: e.Snap.State == engine.StateRunning}
		if v.Running {
			v.Chart = newChart(e.Snap.History, e.Snap.Config.Thresholds)
		}
		data.Engines = append(data.Engines, v)
	}
	return indexTmpl.Execute(w, data)
}

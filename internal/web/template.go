package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/capture-scheduler/internal/logic"
	"github.com/sweeney/capture-scheduler/internal/status"
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
	"stateClass": func(s logic.State) string {
		switch s {
		case logic.StateSampling:
			return "sampling"
		case logic.StateInvalidated:
			return "invalidated"
		case logic.StateIdle:
			return "idle"
		}
		return "unknown"
	},
	"stateOrUnknown": func(s logic.State) string {
		if s == "" {
			return "UNKNOWN"
		}
		return string(s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Capture Scheduler</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.sampling { color: green; font-weight: bold; }
.idle { color: #888; }
.invalidated { color: red; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
progress { width: 100%; }
form { display: inline; }
</style>
</head>
<body>
<h1>Capture Scheduler</h1>

<h2>Session</h2>
<table>
<tr><th>ID</th><td>{{if .Session}}{{.Session}}{{else}}-{{end}}</td></tr>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{stateOrUnknown .State}}</td></tr>
<tr><th>Progress</th><td>{{.Progress.Completed}} / {{.Progress.Total}}{{if .Progress.IsCompleted}} (complete){{end}}</td></tr>
<tr><th></th><td><progress max="{{.Progress.Total}}" value="{{.Progress.Completed}}"></progress></td></tr>
<tr><th>Pending samples</th><td>{{.Pending}}</td></tr>
<tr><th>Last capture</th><td>{{if .LastCapture.IsZero}}never{{else}}{{.LastCapture.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
</table>
{{if .Controls}}
<p>
<form method="post" action="/api/start"><button>Start</button></form>
<form method="post" action="/api/invalidate"><button>Invalidate</button></form>
<form method="post" action="/api/reset"><button>Reset</button></form>
</p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Reports</th><td>{{.Counts.Reports}}</td></tr>
<tr><th>Dropped</th><td>{{.Counts.Dropped}}</td></tr>
<tr><th>Ticks</th><td>{{.Counts.Ticks}}</td></tr>
<tr><th>Captures</th><td>{{.Counts.Captures}}</td></tr>
<tr><th>Sessions completed</th><td>{{.Counts.Sessions}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Required captures</th><td>{{.Config.RequiredCaptures}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Min positive fraction</th><td>{{.Config.MinPositiveFraction}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}{{if .Config.PollMs}} ({{.Config.PollMs}}ms poll){{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, controls bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Controls bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Controls: controls,
	}
	return indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/status"
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
	"stateClass": func(s logic.JobState) string {
		switch s {
		case logic.JobIdle:
			return "idle"
		case logic.JobFault:
			return "fault"
		default:
			return "busy"
		}
	},
	"inc": func(i int) int { return i + 1 },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Scent Dispenser</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.idle { color: #888; }
.busy { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.running { color: green; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Scent Dispenser<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Controller</h2>
<table>
<tr><th>State</th><td id="job-state" class="{{stateClass .JobState}}">{{.JobState}}</td></tr>
<tr><th>Job</th><td id="job-id">{{if .JobID}}{{.JobID}}{{else}}-{{end}}</td></tr>
<tr><th>Recipe armed</th><td id="recipe-armed">{{if .RecipeArmed}}yes{{else}}no{{end}}</td></tr>
{{if .LastFault}}<tr><th>Last fault</th><td class="fault">{{.LastFault}}</td></tr>{{end}}
</table>

<h2>Channels</h2>
<table>
<tr><th>Channel</th><td>mL / sniffs</td></tr>
{{range $i, $ml := .Recipe}}<tr><th>{{inc $i}}</th><td id="ch-{{inc $i}}" class="{{if index $.Running $i}}running{{end}}">{{printf "%.1f" $ml}} / {{index $.Sniffs $i}}</td></tr>
{{end}}</table>

<h2>Temperature</h2>
<table>
<tr><th>Temperature</th><td id="temp">{{if .Sample.Valid}}{{printf "%.1f" .Sample.Celsius}}°C{{else}}invalid{{end}}</td></tr>
<tr><th>Humidity</th><td id="humidity">{{if .Sample.Valid}}{{printf "%.0f" .Sample.Humidity}}%{{else}}-{{end}}</td></tr>
<tr><th>Compensation</th><td>{{printf "%.1f" .Config.TempMin}}°C to {{printf "%.1f" .Config.TempMax}}°C</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Serial</th><td>{{.Config.SerialPort}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Jobs completed</th><td id="jobs-completed">{{.JobsCompleted}}</td></tr>
<tr><th>Jobs faulted</th><td id="jobs-faulted">{{.JobsFaulted}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Test commands</th><td>{{if .Config.TestCommands}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("job-state");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function text(id, v) {
    var el = document.getElementById(id);
    if (el) { el.textContent = v; }
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        stateEl.textContent = s.state;
        stateEl.className = s.state === "IDLE" ? "idle" : s.state === "FAULT" ? "fault" : "busy";
        text("job-id", s.job_id || "-");
        text("recipe-armed", s.recipe_armed ? "yes" : "no");
        text("jobs-completed", s.jobs_completed);
        text("jobs-faulted", s.jobs_faulted);
        text("temp", s.temperature.valid ? s.temperature.celsius.toFixed(1) + "°C" : "invalid");
        text("humidity", s.temperature.valid ? s.temperature.humidity.toFixed(0) + "%" : "-");
        for (var i = 0; i < s.recipe.length; i++) {
          var el = document.getElementById("ch-" + (i + 1));
          if (!el) { continue; }
          el.textContent = s.recipe[i].toFixed(1) + " / " + s.sniff_counts[i];
          el.className = s.running_channels.indexOf(i + 1) >= 0 ? "running" : "";
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
	"github.com/asmcc/my48vdc/internal/status"
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
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"conditions": bms.Conditions,
	"severity": func(p bms.Protection, c bms.Condition) string {
		return p.Get(c).String()
	},
	"temperature": func(t bms.Temperature) string {
		if !t.Valid {
			return "n/a"
		}
		return fmt.Sprintf("%.1f °C", t.Celsius)
	},
	"inc": func(i int) int { return i + 1 },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Battery Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.normal { color: green; }
.warning { color: orange; font-weight: bold; }
.alarm { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.balancing { color: blue; }
</style>
</head>
<body>
<h1>Battery Monitor</h1>

<h2>Battery</h2>
<table>
<tr><th>Ready</th><td>{{if .Battery.Ready}}yes{{else}}waiting for battery data{{end}}</td></tr>
<tr><th>Serial</th><td>{{if .BatteryID}}{{.BatteryID}}{{else}}unknown{{end}}</td></tr>
<tr><th>Type</th><td>{{.Battery.Type}}</td></tr>
{{if .Battery.BMSSoftwareVersion}}<tr><th>Firmware</th><td>{{.Battery.Firmware}}</td></tr>{{end}}
<tr><th>Voltage</th><td>{{printf "%.2f" .Battery.Voltage}} V</td></tr>
<tr><th>Current</th><td>{{printf "%.1f" .Battery.Current}} A</td></tr>
<tr><th>SOC / SOH</th><td>{{printf "%.0f" .Battery.SOC}} % / {{printf "%.0f" .Battery.SOH}} %</td></tr>
<tr><th>Capacity</th><td>{{printf "%.1f" .Battery.Capacity}} Ah</td></tr>
<tr><th>Cell min / max</th><td>{{printf "%.3f" .Battery.CellMinVoltage}} V / {{printf "%.3f" .Battery.CellMaxVoltage}} V</td></tr>
<tr><th>Pack temperature</th><td>{{temperature (index .Battery.Temperatures 1)}}</td></tr>
<tr><th>MOSFET temperature</th><td>{{temperature (index .Battery.Temperatures 0)}}</td></tr>
<tr><th>FETs</th><td>charge {{if .Battery.ChargeFET}}on{{else}}off{{end}}, discharge {{if .Battery.DischargeFET}}on{{else}}off{{end}}, balance {{if .Battery.BalanceFET}}on{{else}}off{{end}}</td></tr>
<tr><th>Alarm</th><td class="{{.Alarm}}">{{.Alarm}}</td></tr>
</table>

<h2>Protection</h2>
<table>
{{range conditions}}{{$s := severity $.Battery.Protection .}}<tr><th>{{.}}</th><td class="{{$s}}">{{$s}}</td></tr>
{{end}}</table>

{{if .Battery.Ready}}<h2>Cells</h2>
<table>
{{range $i, $c := .Battery.Cells}}<tr><th>Cell {{inc $i}}</th><td{{if $c.Balance}} class="balancing"{{end}}>{{printf "%.3f" $c.Voltage}} V{{if $c.Balance}} (balancing){{end}}</td></tr>
{{end}}</table>{{end}}

<h2>Buses</h2>
<table>
<tr><th>Primary ({{.Config.Primary}})</th><td class="{{if .Primary.Silent}}disconnected{{else}}connected{{end}}">{{if .Primary.Silent}}silent{{else}}receiving{{end}}, last {{stamp .Primary.LastMessage}}</td></tr>
{{if .Config.Secondary}}<tr><th>Secondary ({{.Config.Secondary}})</th><td class="{{if .Secondary.Silent}}disconnected{{else}}connected{{end}}">{{if .Secondary.Disabled}}disabled after {{.Secondary.Timeouts}} timeouts{{else if .Secondary.Silent}}silent{{else}}receiving{{end}}, last {{stamp .Secondary.LastMessage}}</td></tr>
{{else}}<tr><th>Secondary</th><td>not configured</td></tr>{{end}}
<tr><th>Cycles</th><td>{{.Cycles}} ok, {{.FailedCycles}} without data</td></tr>
<tr><th>Last update</th><td>{{stamp .LastUpdate}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Alarm  string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Alarm:    snap.Battery.Protection.Worst().String(),
	}
	return indexTmpl.Execute(w, data)
}

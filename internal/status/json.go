package status

import (
	"encoding/json"
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Battery       BatteryJSON  `json:"battery"`
	Buses         BusesJSON    `json:"buses"`
	Cycles        CyclesJSON   `json:"cycles"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	LastUpdate    string       `json:"last_update,omitempty"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// BatteryJSON is the battery summary shown on the status page.
type BatteryJSON struct {
	ID        string  `json:"id,omitempty"`
	Type      string  `json:"type,omitempty"`
	Firmware  string  `json:"firmware,omitempty"`
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	SOC       float64 `json:"soc"`
	SOH       float64 `json:"soh"`
	CellCount int     `json:"cell_count"`
	CellMin   float64 `json:"cell_min"`
	CellMax   float64 `json:"cell_max"`
	Alarm     string  `json:"alarm"`
}

// BusesJSON reports the health of both buses.
type BusesJSON struct {
	Primary   BusJSON  `json:"primary"`
	Secondary *BusJSON `json:"secondary,omitempty"`
}

// BusJSON is the JSON representation of one bus.
type BusJSON struct {
	Interface   string `json:"interface"`
	Silent      bool   `json:"silent"`
	Timeouts    int    `json:"timeouts"`
	LastMessage string `json:"last_message,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
}

// CyclesJSON counts poll cycles by outcome.
type CyclesJSON struct {
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildBus(iface string, h bms.BusHealth) BusJSON {
	return BusJSON{
		Interface:   iface,
		Silent:      h.Silent,
		Timeouts:    h.Timeouts,
		LastMessage: formatTime(h.LastMessage),
		Disabled:    h.Disabled,
	}
}

func buildInner(snap Snapshot) StatusInner {
	b := snap.Battery
	inner := StatusInner{
		Ready: b.Ready,
		Battery: BatteryJSON{
			ID:        snap.BatteryID,
			Type:      b.Type,
			Voltage:   b.Voltage,
			Current:   b.Current,
			SOC:       b.SOC,
			SOH:       b.SOH,
			CellCount: b.CellCount,
			CellMin:   b.CellMinVoltage,
			CellMax:   b.CellMaxVoltage,
			Alarm:     b.Protection.Worst().String(),
		},
		Buses: BusesJSON{
			Primary: buildBus(snap.Config.Primary, snap.Primary),
		},
		Cycles:        CyclesJSON{OK: snap.Cycles, Failed: snap.FailedCycles},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		LastUpdate:    formatTime(snap.LastUpdate),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker, Topic: snap.Config.Topic},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
		},
	}
	if b.BMSSoftwareVersion != "" {
		inner.Battery.Firmware = b.Firmware()
	}
	if snap.Config.Secondary != "" {
		sec := buildBus(snap.Config.Secondary, snap.Secondary)
		inner.Buses.Secondary = &sec
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

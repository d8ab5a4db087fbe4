// Package mqtt publishes battery state and daemon lifecycle events to the
// monitoring host.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
)

// Topic suffixes below the configured base topic.
const (
	SuffixState  = "state"
	SuffixAlarm  = "alarm"
	SuffixSystem = "system"
)

// StateTopic returns the battery state topic under base.
func StateTopic(base string) string { return base + "/" + SuffixState }

// AlarmTopic returns the protection transition topic under base.
func AlarmTopic(base string) string { return base + "/" + SuffixAlarm }

// SystemTopic returns the lifecycle event topic under base.
func SystemTopic(base string) string { return base + "/" + SuffixSystem }

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends a decoded battery state. Errors are reported but
	// must not stop the poll loop.
	PublishState(event StateEvent) error

	// PublishAlarm sends one protection severity change.
	PublishAlarm(event AlarmEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// StateEvent is one decoded battery state.
type StateEvent struct {
	Timestamp time.Time
	Battery   string // unique identifier, or the connection name before it is known
	Snapshot  bms.Snapshot
}

// AlarmEvent is a debounced severity change of one protection condition.
type AlarmEvent struct {
	Timestamp time.Time
	Battery   string
	Condition bms.Condition
	From      bms.Severity
	To        bms.Severity
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the JSON envelope of a battery state message.
type StatePayload struct {
	Battery BatteryPayload `json:"battery"`
}

// BatteryPayload contains the decoded battery values.
type BatteryPayload struct {
	Timestamp    string              `json:"timestamp"`
	ID           string              `json:"id"`
	Type         string              `json:"type,omitempty"`
	Firmware     string              `json:"firmware,omitempty"`
	Voltage      float64             `json:"voltage"`
	Current      float64             `json:"current"`
	SOC          float64             `json:"soc"`
	SOH          float64             `json:"soh"`
	Capacity     float64             `json:"capacity"`
	Temperatures map[string]*float64 `json:"temperatures"`
	Limits       LimitsPayload       `json:"limits"`
	Cells        CellsPayload        `json:"cells"`
	FETs         FETPayload          `json:"fets"`
	Alarm        string              `json:"alarm"`
	Protection   map[string]string   `json:"protection"`
	History      HistoryPayload      `json:"history"`
}

// LimitsPayload holds the charge and discharge limits.
type LimitsPayload struct {
	MaxVoltage          float64 `json:"max_voltage"`
	MinVoltage          float64 `json:"min_voltage"`
	MaxChargeCurrent    float64 `json:"max_charge_current"`
	MaxDischargeCurrent float64 `json:"max_discharge_current"`
}

// CellsPayload holds the per-cell values and the min/max summary.
type CellsPayload struct {
	Count     int       `json:"count"`
	Max       float64   `json:"max"`
	MaxNumber int       `json:"max_number,omitempty"`
	Min       float64   `json:"min"`
	MinNumber int       `json:"min_number,omitempty"`
	Voltages  []float64 `json:"voltages"`
	Balancing []int     `json:"balancing"` // 1-based cell numbers
}

// FETPayload holds the switch states.
type FETPayload struct {
	Charge    bool `json:"charge"`
	Discharge bool `json:"discharge"`
	Balance   bool `json:"balance"`
}

// HistoryPayload holds the lifetime counters.
type HistoryPayload struct {
	ChargeCycles      int     `json:"charge_cycles"`
	ChargedEnergy     float64 `json:"charged_kwh"`
	DischargedEnergy  float64 `json:"discharged_kwh"`
	HighVoltageAlarms int     `json:"high_voltage_alarms"`
	LowVoltageAlarms  int     `json:"low_voltage_alarms"`
}

// temperatureNames are the JSON keys of the temperature slots.
var temperatureNames = [bms.NumTemperatures]string{
	bms.TempMOSFET:  "mosfet",
	bms.TempPack:    "pack",
	bms.TempCellMax: "cell_max",
	bms.TempCellMin: "cell_min",
	bms.TempHeater:  "heater",
}

// FormatStatePayload creates the JSON payload for a battery state.
// Temperatures that were never reported are null.
func FormatStatePayload(event StateEvent) ([]byte, error) {
	s := event.Snapshot
	b := BatteryPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		ID:        event.Battery,
		Type:      s.Type,
		Voltage:   s.Voltage,
		Current:   s.Current,
		SOC:       s.SOC,
		SOH:       s.SOH,
		Capacity:  s.Capacity,
		Limits: LimitsPayload{
			MaxVoltage:          s.Limits.MaxVoltage,
			MinVoltage:          s.Limits.MinVoltage,
			MaxChargeCurrent:    s.Limits.MaxChargeCurrent,
			MaxDischargeCurrent: s.Limits.MaxDischargeCurrent,
		},
		Cells: CellsPayload{
			Count:     s.CellCount,
			Max:       s.CellMaxVoltage,
			MaxNumber: s.CellMaxNumber,
			Min:       s.CellMinVoltage,
			MinNumber: s.CellMinNumber,
			Voltages:  make([]float64, 0, len(s.Cells)),
			Balancing: []int{},
		},
		FETs:       FETPayload{Charge: s.ChargeFET, Discharge: s.DischargeFET, Balance: s.BalanceFET},
		Alarm:      s.Protection.Worst().String(),
		Protection: make(map[string]string, bms.NumConditions),
		History: HistoryPayload{
			ChargeCycles:      s.History.ChargeCycles,
			ChargedEnergy:     s.History.ChargedEnergy,
			DischargedEnergy:  s.History.DischargedEnergy,
			HighVoltageAlarms: s.History.HighVoltageAlarms,
			LowVoltageAlarms:  s.History.LowVoltageAlarms,
		},
		Temperatures: make(map[string]*float64, bms.NumTemperatures),
	}
	if s.BMSSoftwareVersion != "" {
		b.Firmware = s.Firmware()
	}
	for slot, t := range s.Temperatures {
		if !t.Valid || math.IsNaN(t.Celsius) {
			b.Temperatures[temperatureNames[slot]] = nil
			continue
		}
		c := t.Celsius
		b.Temperatures[temperatureNames[slot]] = &c
	}
	if s.Ready {
		for i, c := range s.Cells {
			b.Cells.Voltages = append(b.Cells.Voltages, c.Voltage)
			if c.Balance {
				b.Cells.Balancing = append(b.Cells.Balancing, i+1)
			}
		}
	}
	for _, c := range bms.Conditions() {
		b.Protection[c.String()] = s.Protection.Get(c).String()
	}
	return json.Marshal(StatePayload{Battery: b})
}

// AlarmPayload is the JSON envelope of an alarm transition.
type AlarmPayload struct {
	Alarm AlarmPayloadInner `json:"alarm"`
}

// AlarmPayloadInner contains the transition details.
type AlarmPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Battery   string `json:"battery"`
	Condition string `json:"condition"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// FormatAlarmPayload creates the JSON payload for an alarm transition.
func FormatAlarmPayload(event AlarmEvent) ([]byte, error) {
	return json.Marshal(AlarmPayload{
		Alarm: AlarmPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Battery:   event.Battery,
			Condition: event.Condition.String(),
			From:      event.From.String(),
			To:        event.To.String(),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

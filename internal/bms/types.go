// Package bms decodes the two CAN buses of a battery management system into a
// single battery snapshot.
//
// The primary bus carries aggregate pack telemetry (standard identifiers,
// little-endian payloads). The optional secondary bus carries per-cell detail
// (extended identifiers, big-endian payloads). When the secondary bus goes
// quiet, cell voltages fall back to values synthesized from the aggregate
// min/max pair.
//
// This package has no OS or network access beyond the can.Bus it is handed,
// and time is always injectable.
package bms

import "time"

// Temperature sensor slots.
const (
	TempMOSFET  = 0
	TempPack    = 1
	TempCellMax = 2
	TempCellMin = 3
	TempHeater  = 4

	NumTemperatures = 5
)

// DefaultCellCount is used when the cell count cannot be derived from the
// pack and mean cell voltages.
const DefaultCellCount = 16

// maxTelemetryCells is the number of cells covered by per-cell frames and by
// the balancing bitmap.
const maxTelemetryCells = 16

// Cell is one series cell of the pack.
type Cell struct {
	Voltage float64 // volts; zero until first known
	Balance bool
}

// Temperature is one sensor reading.
type Temperature struct {
	Celsius float64
	Valid   bool
}

// History holds lifetime counters reported by the battery.
type History struct {
	ChargeCycles      int
	ChargedEnergy     float64 // kWh
	DischargedEnergy  float64 // kWh
	HighVoltageAlarms int
	LowVoltageAlarms  int
}

// Modules holds the aggregate module counts of a multi-battery stack.
type Modules struct {
	InOperation         int
	ChargeProhibited    int
	DischargeProhibited int
	Disconnected        int
	Parallel            int
}

// Limits are the charge/discharge limits requested by the BMS.
type Limits struct {
	MaxVoltage          float64
	MinVoltage          float64
	MaxChargeCurrent    float64
	MaxDischargeCurrent float64
}

// Snapshot is the decoded battery state.
type Snapshot struct {
	Voltage  float64 // V
	Current  float64 // A, positive = charging
	SOC      float64 // %
	SOH      float64 // %
	Capacity float64 // Ah

	Limits       Limits
	Temperatures [NumTemperatures]Temperature

	CellMaxVoltage float64
	CellMinVoltage float64
	CellMidVoltage float64
	CellMaxNumber  int // 1-based, secondary bus only
	CellMinNumber  int

	ChargeFET    bool
	DischargeFET bool
	BalanceFET   bool

	OperationMode uint8
	FailureLevel  uint8
	Substate      uint8

	Type                   string
	HardwareVersion        string
	BMSSoftwareVersion     string
	BatterySoftwareVersion string
	BootVersion            string
	SerialPart1            string
	SerialPart2            string

	History History
	Modules Modules

	CellCount  int
	Cells      []Cell
	Protection Protection
	Ready      bool
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Cells = append([]Cell(nil), s.Cells...)
	return c
}

// Firmware composes the human-readable firmware description.
func (s Snapshot) Firmware() string {
	return "BMS: " + s.BMSSoftwareVersion + " Firmware: " + s.BatterySoftwareVersion + " BOOT: " + s.BootVersion
}

// BusHealth tracks receive success on one bus.
type BusHealth struct {
	Silent      bool
	Timeouts    int // consecutive failed receive attempts
	LastMessage time.Time
	Disabled    bool // polling stopped for the process lifetime
}

// Freshness tracks when a cross-bus field group was last received.
type Freshness struct {
	Available bool
	Updated   time.Time
}

// Touch marks the field group as received at now.
func (f *Freshness) Touch(now time.Time) {
	f.Available = true
	f.Updated = now
}

// Expire marks the group unavailable when it is older than window.
// Returns true only on the available -> stale transition.
func (f *Freshness) Expire(now time.Time, window time.Duration) bool {
	if !f.Available || now.Sub(f.Updated) <= window {
		return false
	}
	f.Available = false
	return true
}

// Diagnostics holds per-cycle receive bitmasks, one bit per message.
// They are informational only.
type Diagnostics struct {
	Aggregate uint16 // primary bus, aggregate BMS group
	Battery   uint16 // primary bus, per-battery group
	Secondary uint16
	Gate      uint8
}

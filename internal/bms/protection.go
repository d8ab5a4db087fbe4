package bms

// Severity is the tri-state protection level.
type Severity uint8

const (
	Normal  Severity = 0
	Warning Severity = 1
	Alarm   Severity = 2
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Alarm:
		return "alarm"
	default:
		return "normal"
	}
}

// Condition is one monitored protection condition.
type Condition int

const (
	HighCellVoltage Condition = iota
	LowCellVoltage
	HighVoltage
	LowVoltage
	HighChargeCurrent
	HighDischargeCurrent
	HighChargeTemperature
	LowChargeTemperature
	HighTemperature
	LowTemperature
	CellImbalance
	HighInternalTemperature
	FuseBlown
	InternalFailure

	NumConditions
)

var conditionNames = [NumConditions]string{
	HighCellVoltage:         "high_cell_voltage",
	LowCellVoltage:          "low_cell_voltage",
	HighVoltage:             "high_voltage",
	LowVoltage:              "low_voltage",
	HighChargeCurrent:       "high_charge_current",
	HighDischargeCurrent:    "high_discharge_current",
	HighChargeTemperature:   "high_charge_temperature",
	LowChargeTemperature:    "low_charge_temperature",
	HighTemperature:         "high_temperature",
	LowTemperature:          "low_temperature",
	CellImbalance:           "cell_imbalance",
	HighInternalTemperature: "high_internal_temperature",
	FuseBlown:               "fuse_blown",
	InternalFailure:         "internal_failure",
}

func (c Condition) String() string {
	if c < 0 || c >= NumConditions {
		return "unknown"
	}
	return conditionNames[c]
}

// Conditions lists all conditions in declaration order.
func Conditions() []Condition {
	out := make([]Condition, NumConditions)
	for i := range out {
		out[i] = Condition(i)
	}
	return out
}

// Protection holds one severity per condition. The zero value is all normal.
type Protection [NumConditions]Severity

// Get returns the severity of c.
func (p Protection) Get(c Condition) Severity {
	if c < 0 || c >= NumConditions {
		return Normal
	}
	return p[c]
}

// Worst returns the highest severity across all conditions.
func (p Protection) Worst() Severity {
	w := Normal
	for _, s := range p {
		if s > w {
			w = s
		}
	}
	return w
}

// AlarmBytes is one 8-byte alarm/status group as sent on the wire:
// byte 0 warnings, byte 1 warnings and errors, bytes 2-6 errors, byte 7 FET
// status.
type AlarmBytes [8]byte

// bitMask selects bits within an alarm byte group.
type bitMask [8]byte

func (m bitMask) any(b AlarmBytes) bool {
	for i := range m {
		if b[i]&m[i] != 0 {
			return true
		}
	}
	return false
}

func bit(byteIdx, bitIdx int) bitMask {
	var m bitMask
	m[byteIdx] = 1 << bitIdx
	return m
}

// rule describes how one condition is derived. A zero warn mask means the
// condition has no pre-alarm tier.
type rule struct {
	alarm bitMask
	warn  bitMask
}

var rules = [NumConditions]rule{
	HighCellVoltage:       {alarm: bit(4, 0), warn: bit(0, 0)},
	LowCellVoltage:        {alarm: bit(4, 1), warn: bit(0, 1)},
	HighVoltage:           {alarm: bit(4, 2), warn: bit(0, 2)},
	LowVoltage:            {alarm: bit(4, 3), warn: bit(0, 3)},
	HighChargeCurrent:     {alarm: bit(4, 4), warn: bit(0, 4)},
	HighDischargeCurrent:  {alarm: bit(4, 5), warn: bit(0, 5)},
	HighChargeTemperature: {alarm: bit(4, 6), warn: bit(0, 6)},
	LowChargeTemperature:  {alarm: bit(4, 7), warn: bit(0, 7)},
	HighTemperature:       {alarm: bit(5, 0), warn: bit(1, 0)},
	LowTemperature:        {alarm: bit(5, 1), warn: bit(1, 1)},
	CellImbalance:         {alarm: bit(5, 2), warn: bit(1, 2)},
	HighInternalTemperature: {
		alarm: bitMask{5: 0x38, 6: 0x09},
		warn:  bitMask{1: 0x38},
	},
	FuseBlown: {alarm: bit(6, 4)},
	InternalFailure: {
		alarm: bitMask{1: 0xC0, 2: 0xFF, 3: 0xFF, 5: 0xC0, 6: 0xE6},
	},
}

// Translate derives the protection state from the aggregate and per-battery
// alarm groups. A condition is at alarm when its alarm bits are set in either
// group, else at warning when its warning bits are set in either group.
func Translate(aggregate, battery AlarmBytes) Protection {
	var p Protection
	for c, r := range rules {
		switch {
		case r.alarm.any(aggregate) || r.alarm.any(battery):
			p[c] = Alarm
		case r.warn.any(aggregate) || r.warn.any(battery):
			p[c] = Warning
		default:
			p[c] = Normal
		}
	}
	return p
}
